package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/scopesync/internal/config"
	"github.com/relves/scopesync/internal/cryptosvc"
	"github.com/relves/scopesync/internal/storage/sqlite"
	"github.com/relves/scopesync/internal/transport/remote"
	"github.com/relves/scopesync/pkg/outbox"
	"github.com/relves/scopesync/pkg/server"
	"github.com/relves/scopesync/pkg/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	manager := sqlite.NewManager(cfg.DataPath)
	defer manager.CloseAll()

	stores, err := manager.Get(cfg.Profile)
	if err != nil {
		logger.Error("failed to open profile storage", "profile", cfg.Profile, "error", err)
		os.Exit(1)
	}

	pipeline := verify.NewPipeline(verify.PipelineConfig{
		States: stores.States,
		Grants: stores.Grants,
		Crypto: cryptosvc.New(),
		Logger: logger,
	})

	box := outbox.New(outbox.Config{
		Store:     stores.Outbox,
		Transport: remote.NewClient(cfg.RemoteURL),
		Retention: cfg.OutboxRetention,
		Logger:    logger,
	})
	driver := outbox.NewDriver(box, outbox.DriverConfig{
		Interval: cfg.PushInterval,
		Logger:   logger,
	})

	srv := server.New(server.Config{
		Pipeline: pipeline,
		Outbox:   box,
		States:   stores.States,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("scopesync started",
		"listen_addr", cfg.ListenAddr,
		"data_path", cfg.DataPath,
		"profile", cfg.Profile,
		"remote_url", cfg.RemoteURL,
		"push_interval", cfg.PushInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return driver.Run(ctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scopesync stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("scopesync stopped")
}
