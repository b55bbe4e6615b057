package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/ocr"
	"github.com/nordstack/docextract-worker/internal/pipeline"
	"github.com/nordstack/docextract-worker/internal/rasterize"
)

func TestJobPayloadDecodesBase64Buffer(t *testing.T) {
	raw := []byte("%PDF-1.7 fake document body")
	encoded := base64.StdEncoding.EncodeToString(raw)

	msg := []byte(`{
		"documentId": "doc-42",
		"filename": "report.pdf",
		"fileBuffer": "` + encoded + `",
		"options": {"dpi": 150, "languages": ["eng", "deu"], "pageTimeoutMs": 10000}
	}`)

	var payload JobPayload
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if payload.DocumentID != "doc-42" {
		t.Errorf("DocumentID = %q, want doc-42", payload.DocumentID)
	}
	if payload.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want report.pdf", payload.Filename)
	}
	if string(payload.FileBuffer) != string(raw) {
		t.Errorf("FileBuffer = %q, want %q", payload.FileBuffer, raw)
	}
	if payload.Options == nil || payload.Options.DPI != 150 {
		t.Errorf("Options.DPI not decoded: %+v", payload.Options)
	}
}

func TestJobPayloadRejectsInvalidBase64(t *testing.T) {
	msg := []byte(`{"documentId": "doc-1", "fileBuffer": "!!not base64!!"}`)

	var payload JobPayload
	if err := json.Unmarshal(msg, &payload); err == nil {
		t.Error("expected error for invalid base64 fileBuffer")
	}
}

func TestJobPayloadWithoutBuffer(t *testing.T) {
	msg := []byte(`{"documentId": "doc-1", "filename": "a.pdf"}`)

	var payload JobPayload
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.FileBuffer != nil {
		t.Errorf("FileBuffer = %v, want nil", payload.FileBuffer)
	}
}

func TestPipelineOptionsDefaults(t *testing.T) {
	payload := &JobPayload{DocumentID: "doc-1"}
	opts := payload.PipelineOptions(pipeline.Options{})

	if opts.DPI != 300 {
		t.Errorf("DPI = %d, want 300", opts.DPI)
	}
	if len(opts.Languages) != 1 || opts.Languages[0] != "eng" {
		t.Errorf("Languages = %v, want [eng]", opts.Languages)
	}
	if opts.PageTimeout != 30*time.Second {
		t.Errorf("PageTimeout = %v, want 30s", opts.PageTimeout)
	}
	if opts.MaxPageParallelism < 1 {
		t.Errorf("MaxPageParallelism = %d, want >= 1", opts.MaxPageParallelism)
	}
}

func TestPipelineOptionsUsesConfiguredDefaults(t *testing.T) {
	defaults := pipeline.Options{
		DPI:                200,
		Languages:          []string{"deu"},
		MaxPageParallelism: 3,
		PageTimeout:        12 * time.Second,
	}

	// No per-job options: the worker's configured settings apply as-is.
	payload := &JobPayload{DocumentID: "doc-1"}
	opts := payload.PipelineOptions(defaults)

	if opts.DPI != 200 {
		t.Errorf("DPI = %d, want 200", opts.DPI)
	}
	if len(opts.Languages) != 1 || opts.Languages[0] != "deu" {
		t.Errorf("Languages = %v, want [deu]", opts.Languages)
	}
	if opts.MaxPageParallelism != 3 {
		t.Errorf("MaxPageParallelism = %d, want 3", opts.MaxPageParallelism)
	}
	if opts.PageTimeout != 12*time.Second {
		t.Errorf("PageTimeout = %v, want 12s", opts.PageTimeout)
	}

	// Partial per-job options override only the fields they set.
	payload.Options = &JobOptions{DPI: 150}
	opts = payload.PipelineOptions(defaults)

	if opts.DPI != 150 {
		t.Errorf("DPI = %d, want 150", opts.DPI)
	}
	if len(opts.Languages) != 1 || opts.Languages[0] != "deu" {
		t.Errorf("Languages = %v, want configured default [deu]", opts.Languages)
	}
	if opts.PageTimeout != 12*time.Second {
		t.Errorf("PageTimeout = %v, want configured default 12s", opts.PageTimeout)
	}
}

func TestPipelineOptionsOverrides(t *testing.T) {
	payload := &JobPayload{
		DocumentID: "doc-1",
		Options: &JobOptions{
			DPI:                200,
			Languages:          []string{"fra"},
			MaxPageParallelism: 2,
			PageTimeoutMs:      5000,
		},
	}
	opts := payload.PipelineOptions(pipeline.Options{DPI: 300, Languages: []string{"eng"}})

	if opts.DPI != 200 {
		t.Errorf("DPI = %d, want 200", opts.DPI)
	}
	if len(opts.Languages) != 1 || opts.Languages[0] != "fra" {
		t.Errorf("Languages = %v, want [fra]", opts.Languages)
	}
	if opts.MaxPageParallelism != 2 {
		t.Errorf("MaxPageParallelism = %d, want 2", opts.MaxPageParallelism)
	}
	if opts.PageTimeout != 5*time.Second {
		t.Errorf("PageTimeout = %v, want 5s", opts.PageTimeout)
	}
}

// stalledRasterizer blocks until the context is cancelled, standing in for
// a document that never finishes rendering.
type stalledRasterizer struct{}

func (stalledRasterizer) Rasterize(ctx context.Context, documentID string, data []byte, dpi int) ([]rasterize.PageImage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type idleEngine struct{}

func (idleEngine) Name() string { return "idle" }
func (idleEngine) Recognize(ctx context.Context, input ocr.Input) (ocr.Result, error) {
	return ocr.Result{}, nil
}
func (idleEngine) Close() error { return nil }

func TestHandleProcessDocumentTimeoutIsDocumentScoped(t *testing.T) {
	pool, err := ocr.NewPool(1, func() (ocr.Engine, error) { return idleEngine{}, nil })
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	consumer, err := NewConsumer(&ConsumerConfig{
		RedisURL:          "redis://localhost:6379",
		ProcessingTimeout: 50,
	}, pipeline.New(stalledRasterizer{}, pool), nil, nil)
	if err != nil {
		t.Fatalf("NewConsumer failed: %v", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"documentId": uuid.NewString(),
		"filename":   "slow.pdf",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	err = consumer.handleProcessDocument(context.Background(), asynq.NewTask(TaskTypeProcess, payload))
	if err == nil {
		t.Fatal("expected an error when the job exceeds its processing budget")
	}
	if kind := pipeerrors.KindOf(err); kind != pipeerrors.KindProcessingTimeout {
		t.Errorf("error kind = %q, want %q", kind, pipeerrors.KindProcessingTimeout)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	if _, err := NewConsumer(&ConsumerConfig{}, nil, nil, nil); err == nil {
		t.Error("expected error for missing RedisURL")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379"}, nil, nil, nil); err == nil {
		t.Error("expected error for missing orchestrator")
	}
}

func TestStatusKey(t *testing.T) {
	if got := StatusKey("doc-9"); got != "docextract:status:doc-9" {
		t.Errorf("StatusKey() = %q, want docextract:status:doc-9", got)
	}
}
