/**
 * Pipeline Orchestrator
 *
 * Drives one document through the extraction stages:
 *
 *   pending -> rasterizing -> per-page processing -> assembling -> completed|failed
 *
 * Rasterization is a single blocking unit of work; each page then proceeds
 * independently through preprocess+recognize on a bounded worker pool.
 * Document-fatal errors (corrupt or unsupported input) short-circuit before
 * any per-page work. Page-scoped errors are retried, then isolated: the page
 * is flagged in the result and its siblings keep going. Cancellation
 * propagates to all in-flight page units and discards all results.
 */

package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/ocr"
	"github.com/nordstack/docextract-worker/internal/preprocess"
	"github.com/nordstack/docextract-worker/internal/rasterize"
)

// maxRecognitionRetries is the number of additional attempts a page gets
// after its first recognition failure.
const maxRecognitionRetries = 2

// Orchestrator coordinates the extraction stages for submitted documents.
type Orchestrator struct {
	rasterizer rasterize.Rasterizer
	engines    *ocr.Pool
	assembler  Assembler
}

// New creates an orchestrator over the given rasterizer and engine pool.
func New(rasterizer rasterize.Rasterizer, engines *ocr.Pool) *Orchestrator {
	return &Orchestrator{
		rasterizer: rasterizer,
		engines:    engines,
	}
}

// Process runs the full pipeline for one document and returns its result.
//
// Error contract:
//   - document-fatal input (corrupt, unsupported): a failed DocumentResult
//     with zero pages is returned together with the error
//   - cancellation: no result is returned, only a Cancelled error
//   - per-page failures never produce an error here; they are flagged in
//     the result, and the result is failed only when every page failed
func (o *Orchestrator) Process(ctx context.Context, documentID string, data []byte, opts Options) (*DocumentResult, error) {
	opts = opts.WithDefaults()
	start := time.Now()

	if ctx.Err() != nil {
		return nil, pipeerrors.NewCancelled(documentID)
	}

	log.Printf("[Doc %s] rasterizing (dpi=%d, bytes=%d)", documentID, opts.DPI, len(data))
	pages, err := o.rasterizer.Rasterize(ctx, documentID, data, opts.DPI)
	if err != nil {
		if pipeerrors.IsCancelled(err) || ctx.Err() != nil {
			return nil, pipeerrors.NewCancelled(documentID)
		}
		log.Printf("[Doc %s] rasterization failed: %v", documentID, err)
		return &DocumentResult{
			DocumentID:    documentID,
			Status:        StatusFailed,
			TotalDuration: time.Since(start),
		}, err
	}

	log.Printf("[Doc %s] processing %d pages (parallelism=%d)",
		documentID, len(pages), opts.MaxPageParallelism)

	results := make([]PageResult, len(pages))
	sem := make(chan struct{}, opts.MaxPageParallelism)
	var wg sync.WaitGroup

	for i, page := range pages {
		wg.Add(1)
		go func(slot int, page rasterize.PageImage) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[slot] = PageResult{
					PageIndex: page.Index,
					Status:    PageFailed,
					ErrorKind: pipeerrors.KindCancelled,
					Error:     "document processing was cancelled",
				}
				return
			}
			defer func() { <-sem }()

			results[slot] = o.processPage(ctx, documentID, page, opts)
		}(i, page)
	}

	wg.Wait()

	// Discard everything on cancellation: no partial result escapes.
	if ctx.Err() != nil {
		log.Printf("[Doc %s] cancelled, discarding %d page results", documentID, len(results))
		return nil, pipeerrors.NewCancelled(documentID)
	}

	result := o.assembler.Assemble(documentID, results, time.Since(start))
	log.Printf("[Doc %s] assembled: status=%s, pages=%d, failed=%d, confidence=%.4f, duration=%v",
		documentID, result.Status, len(result.Pages), result.FailedPages,
		result.MeanConfidence, result.TotalDuration)

	return result, nil
}

// processPage runs one page unit to a terminal state within its timeout.
func (o *Orchestrator) processPage(ctx context.Context, documentID string, page rasterize.PageImage, opts Options) PageResult {
	start := time.Now()
	pageCtx, cancel := context.WithTimeout(ctx, opts.PageTimeout)
	defer cancel()

	recognized, err := o.runPage(pageCtx, documentID, page, opts)
	duration := time.Since(start)

	if err != nil {
		// Distinguish the page blowing its own budget from document-wide
		// cancellation; the latter is handled by the caller.
		if pageCtx.Err() != nil && ctx.Err() == nil {
			timeoutErr := pipeerrors.NewPageTimeout(documentID, page.Index, opts.PageTimeout)
			log.Printf("[Doc %s] page %d timed out after %v", documentID, page.Index, duration)
			return PageResult{
				PageIndex: page.Index,
				Status:    PageFailed,
				Duration:  duration,
				ErrorKind: pipeerrors.KindPageTimeout,
				Error:     timeoutErr.Error(),
			}
		}
		if ctx.Err() != nil {
			return PageResult{
				PageIndex: page.Index,
				Status:    PageFailed,
				Duration:  duration,
				ErrorKind: pipeerrors.KindCancelled,
				Error:     "document processing was cancelled",
			}
		}

		log.Printf("[Doc %s] page %d failed: %v", documentID, page.Index, err)
		return PageResult{
			PageIndex: page.Index,
			Status:    PageFailed,
			Duration:  duration,
			ErrorKind: pipeerrors.KindOf(err),
			Error:     err.Error(),
		}
	}

	return PageResult{
		PageIndex:      page.Index,
		Status:         PageCompleted,
		Blocks:         recognized.Blocks,
		MeanConfidence: recognized.MeanConfidence,
		Duration:       duration,
	}
}

// runPage executes preprocess+recognize with retries over the same input.
func (o *Orchestrator) runPage(ctx context.Context, documentID string, page rasterize.PageImage, opts Options) (ocr.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= 1+maxRecognitionRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return ocr.Result{}, lastErr
			}
			return ocr.Result{}, ctx.Err()
		}

		normalized, err := preprocess.Normalize(documentID, page.Index, page.PNG)
		if err != nil {
			lastErr = err
			continue
		}

		engine, err := o.engines.Acquire(ctx)
		if err != nil {
			if lastErr != nil {
				return ocr.Result{}, lastErr
			}
			return ocr.Result{}, err
		}

		recognized, err := engine.Recognize(ctx, ocr.Input{
			Image:     normalized,
			DPI:       opts.DPI,
			Languages: opts.Languages,
		})
		o.engines.Release(engine)

		if err != nil {
			lastErr = pipeerrors.NewRecognitionFailed(documentID, page.Index, attempt, err)
			log.Printf("[Doc %s] page %d recognition attempt %d/%d failed: %v",
				documentID, page.Index, attempt, 1+maxRecognitionRetries, err)
			continue
		}
		return recognized, nil
	}

	return ocr.Result{}, lastErr
}
