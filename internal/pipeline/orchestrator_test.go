package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/ocr"
	"github.com/nordstack/docextract-worker/internal/rasterize"
)

// pagePNG renders a small synthetic page. The width doubles as a page
// fingerprint: preprocessing preserves dimensions, so engine stubs can tell
// pages apart by decoding the normalized image.
func pagePNG(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	for y := 10; y < 14; y++ {
		for x := 5; x < width-5; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode page image: %v", err)
	}
	return buf.Bytes()
}

// pageWidth recovers the fingerprint from a normalized page image. Engine
// stubs run on pipeline goroutines, so decode failures surface as -1 rather
// than aborting the test from the wrong goroutine.
func pageWidth(data []byte) int {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return -1
	}
	return img.Bounds().Dx()
}

// widthForPage gives each page index a distinct, recoverable width.
func widthForPage(index int) int { return 100 + index }

// stubRasterizer returns canned pages or a canned error.
type stubRasterizer struct {
	pages []rasterize.PageImage
	err   error
}

func (s *stubRasterizer) Rasterize(ctx context.Context, documentID string, data []byte, dpi int) ([]rasterize.PageImage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages, nil
}

// stubEngine delegates recognition to a shared function so tests can
// script per-page behavior across the whole pool.
type stubEngine struct {
	fn func(ctx context.Context, input ocr.Input) (ocr.Result, error)
}

func (s *stubEngine) Name() string { return "stub" }
func (s *stubEngine) Close() error { return nil }

func (s *stubEngine) Recognize(ctx context.Context, input ocr.Input) (ocr.Result, error) {
	return s.fn(ctx, input)
}

func newStubPool(t *testing.T, size int, fn func(ctx context.Context, input ocr.Input) (ocr.Result, error)) *ocr.Pool {
	t.Helper()
	pool, err := ocr.NewPool(size, func() (ocr.Engine, error) {
		return &stubEngine{fn: fn}, nil
	})
	if err != nil {
		t.Fatalf("failed to build stub pool: %v", err)
	}
	return pool
}

func makePages(t *testing.T, count int) []rasterize.PageImage {
	t.Helper()
	pages := make([]rasterize.PageImage, count)
	for i := range pages {
		pages[i] = rasterize.PageImage{Index: i + 1, PNG: pagePNG(t, widthForPage(i+1))}
	}
	return pages
}

func okResult(confidence float64) ocr.Result {
	blocks := []ocr.TextBlock{{Text: "hello", Confidence: confidence}}
	return ocr.Result{
		Blocks:         ocr.AssignReadingOrder(blocks),
		PlainText:      "hello",
		MeanConfidence: confidence,
	}
}

func TestProcessCompletesAllPages(t *testing.T) {
	const pageCount = 6
	pool := newStubPool(t, 4, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		return okResult(0.9), nil
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, pageCount)}, pool)
	result, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 4})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, StatusCompleted)
	}
	if len(result.Pages) != pageCount {
		t.Fatalf("got %d pages, want %d", len(result.Pages), pageCount)
	}
	for i, page := range result.Pages {
		if page.PageIndex != i+1 {
			t.Errorf("position %d holds page %d, want %d", i, page.PageIndex, i+1)
		}
		if page.Status != PageCompleted {
			t.Errorf("page %d status = %s, want %s", page.PageIndex, page.Status, PageCompleted)
		}
	}
	if result.SucceededPages != pageCount || result.FailedPages != 0 {
		t.Errorf("succeeded/failed = %d/%d, want %d/0",
			result.SucceededPages, result.FailedPages, pageCount)
	}
}

func TestProcessIsolatesFailedPage(t *testing.T) {
	// Page 2 fails recognition on every attempt; pages 1 and 3 succeed.
	failing := widthForPage(2)
	pool := newStubPool(t, 2, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		if pageWidth(input.Image) == failing {
			return ocr.Result{}, fmt.Errorf("glyph model crashed")
		}
		return okResult(0.8), nil
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, 3)}, pool)
	result, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 2})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, StatusCompleted)
	}
	if result.SucceededPages != 2 || result.FailedPages != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", result.SucceededPages, result.FailedPages)
	}

	page2 := result.Pages[1]
	if page2.Status != PageFailed {
		t.Fatalf("page 2 status = %s, want %s", page2.Status, PageFailed)
	}
	if page2.ErrorKind != pipeerrors.KindRecognitionFailed {
		t.Errorf("page 2 ErrorKind = %q, want %q", page2.ErrorKind, pipeerrors.KindRecognitionFailed)
	}
	if len(page2.Blocks) != 0 {
		t.Errorf("failed page carries %d blocks, want none", len(page2.Blocks))
	}
}

func TestProcessRetriesTransientRecognitionFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	pool := newStubPool(t, 1, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			return ocr.Result{}, fmt.Errorf("transient engine error %d", n)
		}
		return okResult(0.75), nil
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, 1)}, pool)
	result, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 1})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if attempts != 3 {
		t.Errorf("recognition attempts = %d, want 3", attempts)
	}
	if result.Pages[0].Status != PageCompleted {
		t.Errorf("page status = %s, want %s after retry", result.Pages[0].Status, PageCompleted)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, StatusCompleted)
	}
}

func TestProcessStopsRetryingAfterBudget(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	pool := newStubPool(t, 1, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return ocr.Result{}, fmt.Errorf("persistent engine error")
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, 1)}, pool)
	result, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 1})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if attempts != 3 {
		t.Errorf("recognition attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want %s when every page failed", result.Status, StatusFailed)
	}
	if result.Pages[0].ErrorKind != pipeerrors.KindRecognitionFailed {
		t.Errorf("ErrorKind = %q, want %q", result.Pages[0].ErrorKind, pipeerrors.KindRecognitionFailed)
	}
}

func TestProcessCorruptDocument(t *testing.T) {
	pool := newStubPool(t, 1, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		t.Error("recognition must not run for a corrupt document")
		return ocr.Result{}, nil
	})
	defer pool.Close()

	corrupt := pipeerrors.NewDocumentCorrupt("doc-1", fmt.Errorf("bad xref"))
	o := New(&stubRasterizer{err: corrupt}, pool)

	result, err := o.Process(context.Background(), "doc-1", []byte("junk"), Options{})
	if err == nil {
		t.Fatal("expected error for corrupt document")
	}
	if !pipeerrors.IsDocumentFatal(err) {
		t.Errorf("error %v is not document-fatal", err)
	}
	if result == nil {
		t.Fatal("expected a failed result alongside the error")
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", result.Status, StatusFailed)
	}
	if len(result.Pages) != 0 {
		t.Errorf("got %d pages, want 0", len(result.Pages))
	}
}

func TestProcessCancellationDiscardsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	pool := newStubPool(t, 2, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		cancel()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ocr.Result{}, ctx.Err()
	})
	defer pool.Close()
	defer close(release)

	o := New(&stubRasterizer{pages: makePages(t, 4)}, pool)
	result, err := o.Process(ctx, "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 2})

	if result != nil {
		t.Errorf("expected no result after cancellation, got status %s", result.Status)
	}
	if !pipeerrors.IsCancelled(err) {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestProcessAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := newStubPool(t, 1, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		return okResult(0.9), nil
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, 1)}, pool)
	result, err := o.Process(ctx, "doc-1", []byte("%PDF"), Options{})

	if result != nil {
		t.Error("expected no result for a cancelled context")
	}
	if !pipeerrors.IsCancelled(err) {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestProcessPageTimeout(t *testing.T) {
	pool := newStubPool(t, 1, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		<-ctx.Done()
		return ocr.Result{}, ctx.Err()
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: makePages(t, 1)}, pool)
	result, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{
		MaxPageParallelism: 1,
		PageTimeout:        50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", result.Status, StatusFailed)
	}
	if result.Pages[0].ErrorKind != pipeerrors.KindPageTimeout {
		t.Errorf("ErrorKind = %q, want %q", result.Pages[0].ErrorKind, pipeerrors.KindPageTimeout)
	}
}

func TestProcessResultsAreDeterministicAcrossRuns(t *testing.T) {
	pages := makePages(t, 5)
	pool := newStubPool(t, 4, func(ctx context.Context, input ocr.Input) (ocr.Result, error) {
		// Confidence derived from the page fingerprint, so every run
		// produces the same per-page values regardless of scheduling.
		return okResult(float64(pageWidth(input.Image)) / 1000), nil
	})
	defer pool.Close()

	o := New(&stubRasterizer{pages: pages}, pool)

	first, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 4})
	if err != nil {
		t.Fatalf("first Process() failed: %v", err)
	}
	second, err := o.Process(context.Background(), "doc-1", []byte("%PDF"), Options{MaxPageParallelism: 4})
	if err != nil {
		t.Fatalf("second Process() failed: %v", err)
	}

	if first.MeanConfidence != second.MeanConfidence {
		t.Errorf("mean confidence differs across runs: %v vs %v",
			first.MeanConfidence, second.MeanConfidence)
	}
	for i := range first.Pages {
		if first.Pages[i].MeanConfidence != second.Pages[i].MeanConfidence {
			t.Errorf("page %d confidence differs across runs", first.Pages[i].PageIndex)
		}
	}
}
