// Command server starts the candidate document intake HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/blobstore"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/config"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logger := observability.SetupLogger("server", cfg.AppEnv)
	slog.SetDefault(logger)
	observability.InitMetrics()

	store, err := blobstore.New(cfg.StorageConnectionString, logger)
	if err != nil {
		return err
	}
	if err := store.EnsureContainers(context.Background(), cfg.CandidatesContainer); err != nil {
		return err
	}

	srv := httpserver.NewServer(cfg, store)
	handler := httpserver.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
	slog.Info("server stopped")
	return nil
}
