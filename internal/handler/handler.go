package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"gametracker/backend/internal/hub"
	"gametracker/backend/internal/library"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
}

// Handler serves the library over HTTP.
type Handler struct {
	store *library.Store
	hub   *hub.Hub
	page  *PageRenderer
}

// New wires a Handler to the store and hub. The hub is registered as a
// store listener so every change reaches event subscribers.
func New(store *library.Store, h *hub.Hub) (*Handler, error) {
	page, err := NewPageRenderer()
	if err != nil {
		return nil, err
	}
	store.AddListener(h)
	return &Handler{store: store, hub: h, page: page}, nil
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

func respondStoreError(c *gin.Context, err error) {
	var ve *library.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, library.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
	default:
		slog.ErrorContext(c.Request.Context(), "Library operation failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save library"})
	}
}
