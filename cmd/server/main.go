package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/crazyremix/remix-server/internal/config"
	"github.com/crazyremix/remix-server/internal/server"
	"github.com/crazyremix/remix-server/internal/store/driver"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "path to configuration file (defaults and REMIX_* env only when empty)")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Storage.Driver == config.DriverRemote {
		logger.Fatal("the relay cannot use the remote store driver")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	rooms, err := driver.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open room store", zap.Error(err))
	}
	defer rooms.Close()
	logger.Info("room store initialized", zap.String("driver", cfg.Storage.Driver))

	hub := server.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run(ctx)

	srv := server.New(rooms, hub, logger, server.WithWSPath(cfg.Server.WSPath))
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddress,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("listening",
			zap.String("address", cfg.Server.HTTPAddress),
			zap.String("ws_path", cfg.Server.WSPath),
			zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
		)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serveErr))
			sigChan <- syscall.SIGTERM
		}
	}()

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	cancel()

	logger.Info("relay server stopped")
}
