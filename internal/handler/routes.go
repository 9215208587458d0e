package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the page, static assets and the v1 API on router.
// The shell and assets are static; the library fragment and the API are
// live and sent with Cache-Control: no-store.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.SetHTMLTemplate(h.page.Template())
	router.StaticFS("/static", http.FS(h.page.static))
	router.GET("/", h.ShowShell)
	router.GET("/offline.html", h.ShowOffline)
	router.GET("/library", NoStore(), h.ShowLibrary)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	apiV1.Use(NoStore())
	{
		gameRoutes := apiV1.Group("/games")
		{
			gameRoutes.GET("", h.GetGames)
			gameRoutes.POST("", h.CreateGame)
			gameRoutes.GET("/:id", h.GetGameByID)
			gameRoutes.PUT("/:id", h.UpdateGame)
			gameRoutes.DELETE("/:id", h.DeleteGame)
		}

		apiV1.GET("/stats", h.GetStats)
		apiV1.POST("/sync", h.SyncLibrary)
		apiV1.PUT("/filter", h.SetFilter)
		apiV1.GET("/events", h.StreamEvents)
	}
}
