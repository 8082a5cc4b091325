package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavel-fokin/share-relay/internal/config"
	"github.com/pavel-fokin/share-relay/internal/fs"
	"github.com/pavel-fokin/share-relay/internal/server"
	"github.com/pavel-fokin/share-relay/internal/share"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	storage, err := fs.NewStorage(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	if n, err := storage.Purge(); err != nil {
		slog.Warn("Failed to purge stale blobs", "error", err, "removed", n)
	} else if n > 0 {
		slog.Info("Purged stale blobs", "removed", n, "data_dir", storage.Dir())
	}

	shareService := share.NewService(storage, share.Options{
		TTL:           cfg.TTL,
		MaxFileSize:   int64(cfg.MaxFileSize),
		MaxTextSize:   int64(cfg.MaxTextSize),
		CodeLength:    cfg.CodeLength,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	defer func() {
		if err := shareService.Close(); err != nil {
			slog.Error("Failed to close share service", "error", err)
		}
	}()

	srv := server.New(&cfg, shareService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return shareService.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("Starting server", "addr", srv.Addr, "data_dir", storage.Dir(), "max_file_size", cfg.MaxFileSize.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}
}
