package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/cors"
	"github.com/tubeflow/tubeflow/internal/adapters/duckdb"
	"github.com/tubeflow/tubeflow/internal/adapters/sora"
	"github.com/tubeflow/tubeflow/internal/adapters/watcher"
	"github.com/tubeflow/tubeflow/internal/adapters/youtube"
	"github.com/tubeflow/tubeflow/internal/config"
	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
	"github.com/tubeflow/tubeflow/internal/core/services"
	"github.com/tubeflow/tubeflow/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting tubeflow")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg := config.Load()

	// Adapters
	records, err := duckdb.NewRecordStore(cfg.RecordsDBPath)
	if err != nil {
		return fmt.Errorf("failed to init record store: %w", err)
	}
	defer records.Close()

	generator := sora.NewClient(cfg.SoraBaseURL, cfg.SoraAPIKey)

	var thumbs ports.ThumbnailGenerator
	if cfg.EnableThumbnails {
		thumbs = sora.NewThumbnailClient(cfg.SoraBaseURL, cfg.SoraAPIKey, cfg.ThumbnailDir)
	}

	uploader := youtube.NewUploadClient(logger, records, youtube.Config{
		BaseURL:         cfg.YouTubeBaseURL,
		APIKey:          cfg.YouTubeAPIKey,
		ChunkSize:       cfg.ChunkSize,
		RetryAttempts:   cfg.ChunkRetryAttempts,
		RetryBase:       cfg.ChunkRetryBase,
		MaxFileSize:     cfg.MaxFileSize,
		ValidExtensions: cfg.ValidExtensions,
	})

	// Core services
	hub := services.NewNotificationHub(logger)
	metadata := services.NewMetadataBuilder("private")

	executor := services.NewExecutor(logger, hub, uploader, generator, thumbs, metadata, services.ExecutorConfig{
		UploadRetryAttempts: cfg.UploadRetryAttempts,
		UploadRetryDelay:    cfg.UploadRetryDelay,
		PollInterval:        cfg.PollInterval,
		PollMaxAttempts:     cfg.PollMaxAttempts,
		ProcessedDir:        cfg.ProcessedDir,
	})

	scheduler := services.NewPipelineScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Tick:              cfg.SchedulerTick,
		MonitorTick:       cfg.MonitorTick,
	}, hub, executor)

	// Generated videos feed back into the queue as upload jobs.
	executor.SetEnqueue(scheduler.AddJob)

	// Watch folder: new stable video files become upload jobs.
	monitor := watcher.NewMonitor(logger, cfg.WatchDir, cfg.WatchInterval, cfg.ValidExtensions)

	// Kernel API server
	apiServer := kernel.NewServer(logger, scheduler, hub, records)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Watch folder loop
	g.Go(func() error {
		return monitor.Run(gCtx, func(path string) {
			id, err := scheduler.AddJob(domain.JobTypeUploadVideo, domain.Payload{
				Upload: &domain.UploadPayload{FilePath: path},
			}, 0)
			if err != nil {
				logger.Error("failed to enqueue watched file", "path", path, "error", err)
				return
			}
			logger.Info("watched file queued for upload", "path", path, "job_id", id)
		})
	})

	// 2. API server
	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 3. Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		scheduler.Shutdown()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
