/**
 * Document Verification Worker - Main Entry Point
 *
 * Go worker that verifies organization registration certificates.
 *
 * Architecture:
 * - Redis list consumer (default) or asynq server for verify-organization jobs
 * - Page 1 rasterization (pdftoppm, imgconv fallback)
 * - Region crops x preprocessing strategies x Tesseract page segmentation modes
 * - Early exit on a unanimous first attempt, majority consensus otherwise
 * - Homoglyph-aware similarity and tiered decision
 * - PostgreSQL persistence of organization status and attempt audit rows
 * - HTTP API for direct uploads, inline verification and manual overrides
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/adverant/nexus/docverify-worker/internal/clients"
	"github.com/adverant/nexus/docverify-worker/internal/config"
	"github.com/adverant/nexus/docverify-worker/internal/httpserver"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/metrics"
	"github.com/adverant/nexus/docverify-worker/internal/processor"
	"github.com/adverant/nexus/docverify-worker/internal/queue"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

// queueBackend is the part of both consumers main needs.
type queueBackend interface {
	httpserver.Enqueuer
	httpserver.Notifier
	stop(ctx context.Context) error
}

type redisBackend struct{ *queue.RedisConsumer }

func (b redisBackend) stop(context.Context) error { return b.Stop() }

type asynqBackend struct{ *queue.Consumer }

func (b asynqBackend) stop(ctx context.Context) error { return b.Stop(ctx) }

func main() {
	logger := logging.NewLogger("main")
	defer logging.Sync()

	if err := godotenv.Load(".env.nexus"); err != nil {
		logger.Warn(".env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Document verification worker starting",
		"queue_backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"dpi", cfg.RasterDPI,
		"languages", cfg.OCRLanguages)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	logger.Info("Connecting to PostgreSQL...")
	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		_ = db.Close()
		return err
	}

	artifacts, err := clients.NewArtifactClient(&clients.ArtifactClientConfig{
		BaseURL: cfg.FileProcessAPIURL,
		Logger:  logging.NewLogger("ArtifactClient"),
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	storageManager, err := storage.NewStorageManager(&storage.StorageManagerConfig{
		Store:       db,
		Artifacts:   artifacts,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logging.NewLogger("storage"),
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := storageManager.Close(); err != nil {
			logger.Warn("Error closing storage", "error", err)
		}
	}()
	logger.Info("Storage initialized (PostgreSQL + FileProcess artifacts)")

	verifier, err := newVerifier(cfg, m)
	if err != nil {
		return err
	}
	service, err := verification.NewService(storageManager, verifier, logging.NewLogger("verification"))
	if err != nil {
		return err
	}

	handler, err := queue.NewHandler(&queue.HandlerConfig{
		Verifier:          service,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		Metrics:           m,
		Logger:            logging.NewLogger("jobs"),
	})
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	backend, err := startQueue(ctx, cfg, handler)
	if err != nil {
		return err
	}
	logger.Info("Queue consumer started", "backend", cfg.QueueBackend, "concurrency", cfg.WorkerConcurrency)

	api, err := httpserver.NewHandler(&httpserver.Options{
		Verifier:    verifier,
		Service:     service,
		Enqueuer:    backend,
		Notifier:    backend,
		Health:      storageManager,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logging.NewLogger("http"),
	})
	if err != nil {
		_ = backend.stop(context.Background())
		return err
	}
	srv := httpserver.New(cfg.HTTPAddr, httpserver.NewRouter(api, reg))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("Document verification worker is ready, waiting for jobs")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err, ok := <-serveErr:
		if ok {
			runErr = err
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP server", "error", err)
	}
	logger.Info("Stopping queue consumer...")
	if err := backend.stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return runErr
}

func newVerifier(cfg *config.Config, m *metrics.Metrics) (*verification.Verifier, error) {
	extractorCfg := processor.DefaultExtractorConfig()
	extractorCfg.DPI = cfg.RasterDPI
	extractorCfg.Languages = cfg.OCRLanguages
	extractorCfg.DebugDir = cfg.DebugDir

	extractor, err := processor.NewExtractor(&processor.ExtractorOptions{
		Config: extractorCfg,
		Rasterizer: processor.NewDocumentRasterizer(&processor.DocumentRasterizerConfig{
			PdftoppmPath: cfg.PdftoppmPath,
			TempDir:      cfg.TempDir,
			Logger:       logging.NewLogger("rasterizer"),
		}),
		Recognizer: processor.NewTesseractOCR(&processor.TesseractConfig{DPI: cfg.RasterDPI}),
		Metrics:    m,
		Logger:     logging.NewLogger("extractor"),
	})
	if err != nil {
		return nil, err
	}

	return verification.NewVerifier(&verification.VerifierConfig{
		Extractor: extractor,
		Thresholds: verification.Thresholds{
			Exact:   cfg.ExactThreshold,
			Near:    cfg.NearThreshold,
			Partial: cfg.PartialThreshold,
		},
		Metrics: m,
		Logger:  logging.NewLogger("verifier"),
	})
}

func startQueue(ctx context.Context, cfg *config.Config, handler *queue.Handler) (queueBackend, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			ProvisioningQueue: cfg.ProvisioningQueue,
			Concurrency:       cfg.WorkerConcurrency,
			MaxRetries:        cfg.MaxRetries,
			Handler:           handler,
			Logger:            logging.NewLogger("asynq"),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(ctx); err != nil {
			return nil, err
		}
		return asynqBackend{consumer}, nil
	default:
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:            cfg.RedisURL,
			QueueName:           cfg.QueueName,
			ProvisioningChannel: cfg.ProvisioningQueue,
			Concurrency:         cfg.WorkerConcurrency,
			MaxRetries:          cfg.MaxRetries,
			Handler:             handler,
			Logger:              logging.NewLogger("redis-queue"),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(); err != nil {
			_ = consumer.Stop()
			return nil, err
		}
		return redisBackend{consumer}, nil
	}
}
