package handler

import (
	"net/http"
	"strconv"
	"time"

	"gametracker/backend/internal/library"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

// GameInput is the editable part of a game, as submitted by the edit form.
type GameInput struct {
	Title    string  `json:"title" binding:"required" example:"Bloodborne"`
	Status   string  `json:"status" binding:"omitempty,oneof=playing completed backlog dropped" example:"playing"`
	Progress int     `json:"progress" binding:"min=0,max=100" example:"40"`
	Notes    string  `json:"notes" example:"Stuck on Father Gascoigne"`
	Hours    float64 `json:"hours" binding:"min=0" example:"12.5"`
}

func (in GameInput) draft() library.Draft {
	return library.Draft{
		Title:    in.Title,
		Status:   library.Status(in.Status),
		Progress: in.Progress,
		Notes:    in.Notes,
		Hours:    in.Hours,
	}
}

type GameResponse struct {
	ID          int64     `json:"id" example:"1705314600000"`
	Title       string    `json:"title" example:"God of War"`
	Status      string    `json:"status" example:"completed"`
	Progress    int       `json:"progress" example:"100"`
	Notes       string    `json:"notes"`
	Hours       float64   `json:"hours" example:"35"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func newGameResponse(g library.GameRecord) GameResponse {
	return GameResponse{
		ID:          g.ID,
		Title:       g.Title,
		Status:      string(g.Status),
		Progress:    g.Progress,
		Notes:       g.Notes,
		Hours:       g.Hours,
		LastUpdated: g.LastUpdated,
	}
}

func newGameResponses(games []library.GameRecord) []GameResponse {
	response := make([]GameResponse, 0, len(games))
	for _, g := range games {
		response = append(response, newGameResponse(g))
	}
	return response
}

// PaginatedGameResponse defines the structure for a paginated list of games.
type PaginatedGameResponse struct {
	Data []GameResponse `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

// UpdateGameResponse reports whether the update found its game.
type UpdateGameResponse struct {
	Game    GameResponse `json:"game"`
	Updated bool         `json:"updated"`
}

// StatsResponse holds the per-status counts shown above the card list.
type StatsResponse struct {
	library.Counts
	Total    int        `json:"total"`
	LastSync *time.Time `json:"lastSync,omitempty"`
}

// FilterInput selects the current view.
type FilterInput struct {
	Status string `json:"status" binding:"required" example:"backlog"`
}

// endregion

// region --- Game Handlers ---

// GetGames godoc
// @Summary      List games
// @Description  Lists the library in insertion order, optionally restricted to one status.
// @Tags         games
// @Produce      json
// @Param        status query     string  false  "all, playing, completed, backlog or dropped" default(all)
// @Param        page   query     int     false  "Page number" default(1)
// @Param        limit  query     int     false  "Items per page" default(50)
// @Success      200 {object} PaginatedGameResponse
// @Failure      400 {object} ErrorResponse
// @Router       /games [get]
func (h *Handler) GetGames(c *gin.Context) {
	filter, err := library.ParseFilter(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, limit := pageParams(c)

	games := newGameResponses(h.store.Filter(filter))
	c.JSON(http.StatusOK, Paginate(games, page, limit))
}

// GetGameByID godoc
// @Summary      Get a single game by ID
// @Tags         games
// @Produce      json
// @Param        id path int true "Game ID"
// @Success      200 {object} GameResponse
// @Failure      404 {object} ErrorResponse "Game not found"
// @Router       /games/{id} [get]
func (h *Handler) GetGameByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	game, err := h.store.Get(id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newGameResponse(game))
}

// CreateGame godoc
// @Summary      Add a game
// @Description  Adds a game to the library. Status defaults to playing.
// @Tags         games
// @Accept       json
// @Produce      json
// @Param        input body GameInput true "Game Info"
// @Success      201  {object}  GameResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse "Failed to save library"
// @Router       /games [post]
func (h *Handler) CreateGame(c *gin.Context) {
	var input GameInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.store.Create(c.Request.Context(), input.draft())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newGameResponse(game))
}

// UpdateGame godoc
// @Summary      Update a game
// @Description  Replaces every editable field of a game. An unknown ID leaves the library unchanged and reports updated=false.
// @Tags         games
// @Accept       json
// @Produce      json
// @Param        id    path      int       true  "Game ID"
// @Param        input body      GameInput true  "New Game Info"
// @Success      200   {object}  UpdateGameResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      500   {object}  ErrorResponse "Failed to save library"
// @Router       /games/{id} [put]
func (h *Handler) UpdateGame(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var input GameInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.store.Update(c.Request.Context(), id, input.draft())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, UpdateGameResponse{Game: newGameResponse(res.Record), Updated: !res.Dropped})
}

// DeleteGame godoc
// @Summary      Delete a game
// @Description  Deletes a game. The request must carry confirm=true.
// @Tags         games
// @Produce      json
// @Param        id      path  int  true  "Game ID"
// @Param        confirm query bool true  "Confirms the deletion"
// @Success      200 {object} map[string]string "{"message": "Game deleted"}"
// @Failure      404 {object} ErrorResponse "Game not found"
// @Failure      409 {object} ErrorResponse "Deletion not confirmed"
// @Router       /games/{id} [delete]
func (h *Handler) DeleteGame(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))

	deleted, err := h.store.Delete(c.Request.Context(), id, func(int64) bool { return confirmed })
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if !confirmed {
		c.JSON(http.StatusConflict, gin.H{"error": "Deletion must be confirmed with confirm=true"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game deleted"})
}

// endregion

// region --- Library Handlers ---

// GetStats godoc
// @Summary      Library statistics
// @Tags         library
// @Produce      json
// @Success      200 {object} StatsResponse
// @Router       /stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	counts := h.store.Counts()
	response := StatsResponse{Counts: counts, Total: counts.Total()}
	if last := h.store.LastSync(); !last.IsZero() {
		response.LastSync = &last
	}
	c.JSON(http.StatusOK, response)
}

// SyncLibrary godoc
// @Summary      Sync the library
// @Description  Re-persists the library to local storage.
// @Tags         library
// @Produce      json
// @Success      200 {object} map[string]string "{"message": "Data synced locally!"}"
// @Failure      500 {object} ErrorResponse
// @Router       /sync [post]
func (h *Handler) SyncLibrary(c *gin.Context) {
	at, err := h.store.Sync(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Data synced locally!", "lastSync": at})
}

// SetFilter godoc
// @Summary      Change the current view
// @Description  Sets the filter applied to the view pushed to event subscribers.
// @Tags         library
// @Accept       json
// @Produce      json
// @Param        input body FilterInput true "Filter"
// @Success      200 {object} PaginatedGameResponse
// @Failure      400 {object} ErrorResponse
// @Router       /filter [put]
func (h *Handler) SetFilter(c *gin.Context) {
	var input FilterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter, err := library.ParseFilter(input.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.store.SetFilter(filter)
	games := newGameResponses(h.store.View())
	c.JSON(http.StatusOK, NewPaginatedResponse(games, int64(len(games)), 1, max(len(games), 1)))
}

// endregion
