/**
 * Queue Consumer for the extraction worker
 *
 * Consumes extraction jobs from Redis and drives the document pipeline.
 * Uses Asynq for queue management.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/pipeline"
	"github.com/nordstack/docextract-worker/internal/storage"
)

// TaskTypeProcess is the asynq task type for document extraction jobs.
const TaskTypeProcess = "docextract:process"

// JobPayload is the wire format of an extraction job.
type JobPayload struct {
	DocumentID string      `json:"documentId"`
	Filename   string      `json:"filename"`
	FileBuffer []byte      `json:"-"`
	Options    *JobOptions `json:"options,omitempty"`
}

// JobOptions carries per-job overrides for the pipeline defaults.
type JobOptions struct {
	DPI                int      `json:"dpi,omitempty"`
	Languages          []string `json:"languages,omitempty"`
	MaxPageParallelism int      `json:"maxPageParallelism,omitempty"`
	PageTimeoutMs      int      `json:"pageTimeoutMs,omitempty"`
}

// UnmarshalJSON decodes the base64 fileBuffer field emitted by the API gateway.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer string `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	if aux.FileBuffer != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.FileBuffer)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded
	}

	return nil
}

// PipelineOptions layers per-job overrides over the worker's configured
// extraction defaults. Fields the job leaves unset keep the worker default;
// anything still unset falls back to the pipeline's built-in defaults.
func (p *JobPayload) PipelineOptions(defaults pipeline.Options) pipeline.Options {
	opts := defaults
	if p.Options != nil {
		if p.Options.DPI > 0 {
			opts.DPI = p.Options.DPI
		}
		if len(p.Options.Languages) > 0 {
			opts.Languages = p.Options.Languages
		}
		if p.Options.MaxPageParallelism > 0 {
			opts.MaxPageParallelism = p.Options.MaxPageParallelism
		}
		if p.Options.PageTimeoutMs > 0 {
			opts.PageTimeout = time.Duration(p.Options.PageTimeoutMs) * time.Millisecond
		}
	}
	return opts.WithDefaults()
}

// Consumer pulls extraction jobs from Redis and runs them through the pipeline.
type Consumer struct {
	server       *asynq.Server
	mux          *asynq.ServeMux
	orchestrator *pipeline.Orchestrator
	store        *storage.Store
	status       *StatusReporter
	config       *ConsumerConfig
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxFileSize       int64
	ProcessingTimeout int64 // milliseconds, default 300000 (5 minutes)

	// Defaults are the worker's configured extraction settings, applied to
	// every job field the submission does not override.
	Defaults pipeline.Options
}

// NewConsumer creates a queue consumer bound to the given pipeline and store.
func NewConsumer(cfg *ConsumerConfig, orchestrator *pipeline.Orchestrator, store *storage.Store, status *StatusReporter) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "docextract:jobs"
	}

	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at 60s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		server:       server,
		mux:          mux,
		orchestrator: orchestrator,
		store:        store,
		status:       status,
		config:       cfg,
	}

	mux.HandleFunc(TaskTypeProcess, consumer.handleProcessDocument)

	return consumer, nil
}

// Start starts the queue consumer.
func (c *Consumer) Start() error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully.
func (c *Consumer) Stop() error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return nil
}

// handleProcessDocument runs one extraction job end to end.
func (c *Consumer) handleProcessDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	// Document IDs key the Postgres uuid column; reject malformed ones
	// before any work and mint one for submissions that carry none.
	if payload.DocumentID == "" {
		payload.DocumentID = uuid.NewString()
		log.Printf("[Doc %s] job arrived without a documentId, assigned one", payload.DocumentID)
	} else if _, err := uuid.Parse(payload.DocumentID); err != nil {
		return fmt.Errorf("invalid documentId %q: %w", payload.DocumentID, err)
	}

	log.Printf("[Doc %s] Processing document: filename=%s, size=%d bytes",
		payload.DocumentID, payload.Filename, len(payload.FileBuffer))

	if c.config.MaxFileSize > 0 && int64(len(payload.FileBuffer)) > c.config.MaxFileSize {
		err := pipeerrors.NewUnsupportedDocument(payload.DocumentID,
			fmt.Sprintf("document exceeds maximum size of %d bytes", c.config.MaxFileSize))
		c.recordFailure(ctx, &payload, err, time.Since(startTime))
		return fmt.Errorf("document rejected: %w", err)
	}

	c.reportStatus(ctx, payload.DocumentID, string(pipeline.StatusProcessing), nil)
	if c.store != nil {
		if err := c.store.MarkProcessing(ctx, payload.DocumentID, payload.Filename); err != nil {
			log.Printf("[Doc %s] Warning: Failed to mark job as processing: %v", payload.DocumentID, err)
		}
	}

	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.orchestrator.Process(processCtx, payload.DocumentID, payload.FileBuffer, payload.PipelineOptions(c.config.Defaults))

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Doc %s] Processing timed out after %v (timeout: %v)", payload.DocumentID, duration, timeout)
			timeoutErr := pipeerrors.NewProcessingTimeout(payload.DocumentID, timeout, err)
			c.recordFailure(ctx, &payload, timeoutErr, duration)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		if pipeerrors.IsCancelled(err) {
			// Worker is shutting down; let asynq re-deliver the task.
			log.Printf("[Doc %s] Processing cancelled after %v", payload.DocumentID, duration)
			return err
		}

		log.Printf("[Doc %s] Processing failed after %v: %v", payload.DocumentID, duration, err)
		c.recordFailure(ctx, &payload, err, duration)
		return fmt.Errorf("document processing failed: %w", err)
	}

	log.Printf("[Doc %s] Processing completed in %v: status=%s, pages=%d, failed=%d, confidence=%.4f",
		payload.DocumentID, duration, result.Status, len(result.Pages), result.FailedPages, result.MeanConfidence)

	if c.store != nil {
		if err := c.store.SaveResult(ctx, result, payload.Filename, payload.FileBuffer, duration); err != nil {
			log.Printf("[Doc %s] ERROR: Failed to persist result: %v", payload.DocumentID, err)
			return fmt.Errorf("failed to persist result: %w", err)
		}
	}

	c.reportStatus(ctx, payload.DocumentID, string(result.Status), map[string]interface{}{
		"pageCount":      len(result.Pages),
		"failedPages":    result.FailedPages,
		"confidence":     result.MeanConfidence,
		"processingTime": duration.Milliseconds(),
	})

	return nil
}

// recordFailure persists a document-fatal outcome and reports it.
func (c *Consumer) recordFailure(ctx context.Context, payload *JobPayload, cause error, duration time.Duration) {
	if c.store != nil {
		if err := c.store.SaveFailure(ctx, payload.DocumentID, payload.Filename, cause, duration); err != nil {
			log.Printf("[Doc %s] Warning: Failed to persist failure: %v", payload.DocumentID, err)
		}
	}

	fields := map[string]interface{}{
		"processingTime": duration.Milliseconds(),
	}
	if cause != nil {
		fields["error"] = cause.Error()
		fields["errorCode"] = string(pipeerrors.KindOf(cause))
	}
	c.reportStatus(ctx, payload.DocumentID, string(pipeline.StatusFailed), fields)
}

func (c *Consumer) reportStatus(ctx context.Context, documentID, status string, fields map[string]interface{}) {
	if c.status == nil {
		return
	}
	if err := c.status.Report(ctx, documentID, status, fields); err != nil {
		log.Printf("[Doc %s] Warning: Failed to report status %q: %v", documentID, status, err)
	}
}
