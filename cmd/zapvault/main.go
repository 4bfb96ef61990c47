package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zapvault/zapvault/internal/api"
	"github.com/zapvault/zapvault/internal/config"
	"github.com/zapvault/zapvault/internal/events"
	"github.com/zapvault/zapvault/internal/ingest"
	"github.com/zapvault/zapvault/internal/media"
	"github.com/zapvault/zapvault/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("zapvault starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database ready")

	// Blob store
	if cfg.GCSBucket == "" {
		slog.Error("GCS_BUCKET_NAME is required")
		os.Exit(1)
	}
	blobs, err := media.NewGCSStore(ctx, cfg.GCSBucket)
	if err != nil {
		slog.Error("failed to create blob store", "error", err)
		os.Exit(1)
	}
	defer blobs.Close()
	mediaStore := media.NewStore(blobs, slog.Default())
	slog.Info("blob store ready", "bucket", cfg.GCSBucket)

	// Run event publisher (optional — ingestion works without NATS,
	// outcomes are then visible only through run records)
	var sink ingest.EventSink
	natsClient, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Warn("NATS unavailable, run events disabled", "error", err)
	} else {
		defer natsClient.Close()
		sink = natsClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Pipeline — the main ingestion machinery
	pipeline := ingest.New(db, mediaStore, sink, slog.Default(), ingest.Options{
		Workers:          cfg.Workers,
		QueueSize:        cfg.QueueSize,
		MediaConcurrency: cfg.MediaConcurrency,
		RunTimeout:       cfg.RunTimeout,
	})
	pipeline.Start(ctx)

	// HTTP API
	srv := api.NewServer(cfg.Port, pipeline, db, cfg.MaxUploadBytes, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("zapvault ready", "port", cfg.Port, "workers", cfg.Workers)

	// Graceful shutdown: stop accepting, drain in-flight runs.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down, draining runs")
	pipeline.Stop()
	cancel()
	slog.Info("zapvault stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
