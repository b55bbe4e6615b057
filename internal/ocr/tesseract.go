/**
 * Tesseract engine
 *
 * Local recognition through the gosseract binding. One engine owns one
 * long-lived gosseract client; gosseract clients are not reentrant, so
 * concurrent use is mediated by the engine Pool.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine implements Engine using a persistent gosseract client.
type TesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed OCR engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{client: gosseract.NewClient()}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Close releases the underlying tesseract handle.
func (e *TesseractEngine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Recognize runs tesseract over a normalized page image and returns line
// blocks in reading order.
func (e *TesseractEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := e.client.SetImageFromBytes(in.Image); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := e.client.SetLanguage(in.Languages...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if in.DPI > 0 {
		if err := e.client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range in.Metadata {
		if err := e.client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return Result{}, fmt.Errorf("recognize text lines: %w", err)
	}

	blocks := make([]TextBlock, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		blocks = append(blocks, TextBlock{
			Text: text,
			Box: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
			Confidence: Clamp(b.Confidence / 100.0),
		})
	}

	blocks = AssignReadingOrder(blocks)

	return Result{
		Blocks:         blocks,
		PlainText:      JoinBlocks(blocks),
		MeanConfidence: MeanConfidence(blocks),
	}, nil
}
