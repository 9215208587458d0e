package main

import (
	"log/slog"
	"net/http"
	"time"

	"gametracker/backend/internal/assetcache"
	"gametracker/backend/internal/config"
	"gametracker/backend/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

func runGateway(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig
	ctx := cmd.Context()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeDB(db)

	// Event streams stay open, so only the wait for headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second
	client := &http.Client{Transport: otelhttp.NewTransport(transport)}

	reg, err := assetcache.NewRegistration(cfg.OriginURL, client, nil)
	if err != nil {
		return err
	}
	worker, err := assetcache.NewWorker(assetcache.WorkerConfig{
		CacheName:  cfg.CacheName,
		Origin:     cfg.OriginURL,
		Manifest:   cfg.Manifest(),
		OfflineURL: cfg.OfflineURL,
	}, assetcache.NewSQLStorage(db), client)
	if err != nil {
		return err
	}
	// An unreachable origin leaves the gateway passing requests through.
	if err := reg.Register(ctx, worker); err != nil {
		slog.Warn("Worker install failed, serving uncached", "cache", cfg.CacheName, "error", err)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.NoRoute(gin.WrapH(reg))

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = cfg.GatewayAddr
	}
	return listen(listenAddr, router)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
