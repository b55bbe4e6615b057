// Package pipeline drives a document through rasterization, per-page
// preprocessing and recognition, and assembly of the final document result.
package pipeline

import (
	"runtime"
	"time"

	"github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/ocr"
)

// DocumentStatus tracks a document through its processing lifecycle.
type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusRasterizing DocumentStatus = "rasterizing"
	StatusProcessing  DocumentStatus = "processing"
	StatusAssembling  DocumentStatus = "assembling"
	StatusCompleted   DocumentStatus = "completed"
	StatusFailed      DocumentStatus = "failed"
)

// PageStatus is the terminal per-page state.
type PageStatus string

const (
	PageCompleted PageStatus = "completed"
	PageFailed    PageStatus = "failed"
)

// Options configure one document submission. Zero values fall back to the
// documented defaults.
type Options struct {
	// DPI is the rasterization resolution. Default 300.
	DPI int
	// Languages are OCR language hints. Default {"eng"}.
	Languages []string
	// MaxPageParallelism bounds concurrent page units. Default NumCPU.
	MaxPageParallelism int
	// PageTimeout bounds one page's preprocess+recognize stage, retries
	// included. Default 30s.
	PageTimeout time.Duration
}

// WithDefaults fills unset options with their defaults.
func (o Options) WithDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 300
	}
	if len(o.Languages) == 0 {
		o.Languages = []string{"eng"}
	}
	if o.MaxPageParallelism <= 0 {
		o.MaxPageParallelism = runtime.NumCPU()
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	return o
}

// PageResult is the terminal outcome for one page. Failed pages carry the
// error kind and message instead of blocks.
type PageResult struct {
	PageIndex      int             `json:"pageIndex"`
	Status         PageStatus      `json:"status"`
	Blocks         []ocr.TextBlock `json:"blocks,omitempty"`
	MeanConfidence float64         `json:"meanConfidence"`
	Duration       time.Duration   `json:"durationNs"`
	ErrorKind      errors.Kind     `json:"errorKind,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// DocumentResult is the assembled outcome for one document. Pages are in
// page-index order with no gaps. MeanConfidence averages only successful
// pages; with zero successful pages the status is failed and the mean is
// reported as zero.
type DocumentResult struct {
	DocumentID     string         `json:"documentId"`
	Status         DocumentStatus `json:"status"`
	Pages          []PageResult   `json:"pages"`
	SucceededPages int            `json:"succeededPages"`
	FailedPages    int            `json:"failedPages"`
	MeanConfidence float64        `json:"meanConfidence"`
	TotalDuration  time.Duration  `json:"totalDurationNs"`
}

// PlainText linearizes the document's successful pages in page order,
// blocks in reading order, pages separated by blank lines.
func (r *DocumentResult) PlainText() string {
	var out string
	for _, page := range r.Pages {
		if page.Status != PageCompleted {
			continue
		}
		text := ocr.JoinBlocks(page.Blocks)
		if text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += text
	}
	return out
}
