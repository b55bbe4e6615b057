// Package ocr defines the recognition engine contract and the text block
// data model shared by the pipeline. Engines are transport-agnostic: the
// default is a local Tesseract binding, with an HTTP-backed engine available
// for deployments that offload recognition to a dedicated service.
package ocr

import "context"

// BoundingBox locates a text block in page-pixel coordinates, origin in the
// upper-left corner.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextBlock is one recognized unit of text on a page.
type TextBlock struct {
	Text string      `json:"text"`
	Box  BoundingBox `json:"box"`
	// Confidence is the engine's native per-block score clamped to [0,1].
	Confidence float64 `json:"confidence"`
	// ReadingOrder is the block's position in the natural reading sequence,
	// starting at 0 and strictly increasing within a page.
	ReadingOrder int `json:"readingOrder"`
}

// Input is a single normalized page image submitted for recognition.
type Input struct {
	// Image is the encoded (PNG) page image.
	Image []byte
	// DPI carries the rendering resolution; engines use it for layout
	// heuristics. Zero means unknown.
	DPI int
	// Languages lists trained-data hints (e.g. "eng", "deu").
	Languages []string
	// Metadata passes engine-specific knobs (e.g. tesseract variables)
	// without widening the API surface.
	Metadata map[string]string
}

// Result is the recognition output for one page image. Blocks are in
// reading order with ReadingOrder indices assigned.
type Result struct {
	Blocks         []TextBlock
	PlainText      string
	MeanConfidence float64
}

// Engine is the OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
	Close() error
}

// Clamp bounds a confidence score to [0,1].
func Clamp(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// MeanConfidence averages per-block confidences; zero blocks yield zero.
func MeanConfidence(blocks []TextBlock) float64 {
	if len(blocks) == 0 {
		return 0
	}
	var sum float64
	for _, b := range blocks {
		sum += b.Confidence
	}
	return sum / float64(len(blocks))
}
