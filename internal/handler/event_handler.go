package handler

import (
	"encoding/json"
	"io"

	"gametracker/backend/internal/hub"

	"github.com/gin-gonic/gin"
)

// StreamEvents godoc
// @Summary      Library change stream
// @Description  Server-sent events carrying the current view and counts: library.snapshot on connect, then library.updated after every change.
// @Tags         library
// @Produce      text/event-stream
// @Success      200
// @Router       /events [get]
func (h *Handler) StreamEvents(c *gin.Context) {
	client := make(hub.Client, 16)
	h.hub.Subscribe(hub.TopicLibrary, client)
	defer h.hub.Unsubscribe(hub.TopicLibrary, client)

	initial, err := json.Marshal(hub.Event{
		Type:    hub.EventLibrarySnapshot,
		Payload: hub.LibrarySnapshot{Games: h.store.View(), Counts: h.store.Counts()},
	})
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(hub.EventLibrarySnapshot, string(initial))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(hub.EventLibraryUpdated, string(msg))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
