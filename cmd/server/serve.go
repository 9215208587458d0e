package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"gametracker/backend/internal/config"
	"gametracker/backend/internal/database"
	"gametracker/backend/internal/handler"
	"gametracker/backend/internal/hub"
	"gametracker/backend/internal/kv"
	"gametracker/backend/internal/library"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	// Swagger imports
	_ "gametracker/backend/docs"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           PS4 Game Tracker API
// @version         1.0
// @description     Personal PS4 game library with offline asset caching.
// @host            localhost:8080
// @BasePath        /api/v1
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig
	ctx := cmd.Context()

	store, closeKV, err := openLibraryKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	lib := library.NewStore(store, library.WithKey(cfg.StorageKey), library.WithLogger(slog.Default()))
	lib.Load(ctx)
	if cfg.SeedDemo {
		if seeded, err := lib.SeedIfEmpty(ctx); err != nil {
			slog.Warn("Could not seed demo library", "error", err)
		} else if seeded {
			slog.Info("Seeded demo library")
		}
	}

	h, err := handler.New(lib, hub.NewHub())
	if err != nil {
		return err
	}

	router := gin.Default()
	router.Use(handler.RequestID())

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	handler.RegisterRoutes(router, h)

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = cfg.HTTPAddr
	}
	slog.Info("Swagger UI is available", "url", fmt.Sprintf("http://%s/swagger/index.html", displayAddr(listenAddr)))
	return listen(listenAddr, router)
}

// openLibraryKV opens the key-value backend chosen by KV_BACKEND.
func openLibraryKV(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case config.BackendRedis:
		r, err := kv.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Redis for library storage")
		return r, func() { _ = r.Close() }, nil
	default:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return kv.NewSQL(db), func() { closeDB(db) }, nil
	}
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
