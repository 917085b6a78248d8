package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/immunoload/internal/config"
	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/database"
	"github.com/JonMunkholm/immunoload/internal/logging"
	"github.com/JonMunkholm/immunoload/internal/metrics"
	"github.com/JonMunkholm/immunoload/internal/source"
	"github.com/JonMunkholm/immunoload/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"commit_frequency", cfg.Ingest.CommitFrequency,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	var rec *metrics.Recorder
	var svcOpts []core.Option
	var srvOpts []web.Option
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		svcOpts = append(svcOpts, core.WithRecorder(rec))
		srvOpts = append(srvOpts, web.WithMetrics(rec))
	}

	service := core.NewService(store, cfg.ServiceConfig(), svcOpts...)

	opener := &source.Opener{MaxSize: cfg.Ingest.MaxFileSize}
	s3Client, err := source.NewS3Client(ctx, source.S3Config{
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		slog.Warn("s3 client unavailable, s3:// locations disabled", "error", err)
	} else {
		opener.S3 = s3Client
	}
	srvOpts = append(srvOpts, web.WithOpener(opener))

	server := web.NewServer(service, cfg, srvOpts...)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	if cfg.Sweep.Enabled {
		go service.StartSweepScheduler(jobCtx, cfg.Sweep.Interval)
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active ingestion runs to complete (with timeout)
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for ingestion runs to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("ingestion runs did not complete in time", "error", err)
			} else {
				slog.Info("all ingestion runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(jobCtx); err != nil {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-stopped
}
