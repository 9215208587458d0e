package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gametracker/backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:   "gametracker",
		Short: "PS4 game tracker server and offline asset gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configDir)
			if err != nil {
				return err
			}
			config.SetupLog(os.Stderr)
			gin.SetMode(cfg.GinMode)
			return nil
		},
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker API and page",
		RunE:  runServe,
	}
	gatewayCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Run the caching gateway in front of the tracker",
		RunE:  runGateway,
	}

	// Flags
	configDir string
	addr      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding the optional .env file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Address to listen on. Falls back to HTTP_ADDR")
	gatewayCmd.Flags().StringVar(&addr, "addr", "", "Address to listen on. Falls back to GATEWAY_ADDR")
	rootCmd.AddCommand(serveCmd, gatewayCmd)
}

// listen serves handler on addr until SIGINT or SIGTERM, then shuts down.
// Request contexts are canceled on shutdown so event streams end.
func listen(addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server is running", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
