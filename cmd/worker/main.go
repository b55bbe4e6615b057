/**
 * Document Extraction Worker - Main Entry Point
 *
 * Go worker that turns PDF documents into structured text.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Poppler rasterization (pdftoppm/pdfinfo)
 * - Image preprocessing (grayscale, binarization, deskew, denoise)
 * - Tesseract OCR with a bounded engine pool, page-level parallelism
 * - PostgreSQL persistence plus S3-compatible artifact storage
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nordstack/docextract-worker/internal/config"
	"github.com/nordstack/docextract-worker/internal/ocr"
	"github.com/nordstack/docextract-worker/internal/pipeline"
	"github.com/nordstack/docextract-worker/internal/queue"
	"github.com/nordstack/docextract-worker/internal/rasterize"
	"github.com/nordstack/docextract-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Document extraction worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Workers=%d, PageParallelism=%d, Engine=%s",
		cfg.RedisURL, cfg.WorkerConcurrency, cfg.MaxPageParallelism, cfg.OCREngine)

	// Artifact storage is optional: without an endpoint, only PostgreSQL is used.
	var artifacts *storage.ArtifactStore
	if cfg.S3Endpoint != "" {
		artifacts, err = storage.NewArtifactStore(
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize artifact store: %v", err)
		}

		ensureCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := artifacts.EnsureBucket(ensureCtx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure artifact bucket %q: %v", cfg.S3Bucket, err)
		}
		cancel()
		log.Printf("Artifact store initialized (bucket=%s)", cfg.S3Bucket)
	} else {
		log.Printf("S3_ENDPOINT not set, artifact storage disabled")
	}

	log.Printf("Connecting to PostgreSQL...")
	store, err := storage.NewStore(cfg.DatabaseURL, artifacts)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("Storage initialized")

	// One OCR engine per page slot so full page parallelism never blocks on the pool.
	poolSize := cfg.WorkerConcurrency * cfg.MaxPageParallelism
	engines, err := ocr.NewPool(poolSize, func() (ocr.Engine, error) {
		return newEngine(cfg)
	})
	if err != nil {
		log.Fatalf("Failed to initialize OCR engine pool: %v", err)
	}
	defer engines.Close()
	log.Printf("OCR engine pool initialized (engine=%s, size=%d)", cfg.OCREngine, poolSize)

	rasterizer := rasterize.NewPoppler(cfg.PdftoppmPath, cfg.PdfinfoPath, cfg.TempDir)
	orchestrator := pipeline.New(rasterizer, engines)

	log.Printf("Connecting to Redis for status reporting...")
	status, err := queue.NewStatusReporter(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize status reporter: %v", err)
	}
	defer status.Close()

	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         "docextract:jobs",
		Concurrency:       cfg.WorkerConcurrency,
		MaxFileSize:       cfg.MaxFileSize,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		Defaults: pipeline.Options{
			DPI:                cfg.DPI,
			Languages:          cfg.Languages,
			MaxPageParallelism: cfg.MaxPageParallelism,
			PageTimeout:        time.Duration(cfg.PageTimeoutMs) * time.Millisecond,
		},
	}, orchestrator, store, status)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Document extraction worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: docextract:jobs")
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Page parallelism: %d", cfg.MaxPageParallelism)
	log.Printf("DPI: %d, Languages: %v", cfg.DPI, cfg.Languages)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := consumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if err := store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Printf("Shutdown complete")
}

// newEngine builds one OCR engine per the configured backend.
func newEngine(cfg *config.Config) (ocr.Engine, error) {
	switch cfg.OCREngine {
	case "tesseract":
		return ocr.NewTesseractEngine(), nil
	case "remote":
		if cfg.RemoteOCRURL == "" {
			return nil, fmt.Errorf("REMOTE_OCR_URL is required when OCR_ENGINE=remote")
		}
		return ocr.NewRemoteEngine(cfg.RemoteOCRURL), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.OCREngine)
	}
}
