/**
 * Remote OCR engine
 *
 * Delegates recognition to an HTTP OCR service. Useful when tesseract is not
 * installed on the worker host or recognition runs on dedicated hardware.
 * The wire contract: POST {image: base64, dpi, languages} to /v1/recognize,
 * receive {blocks: [{text, box, confidence}]}.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nordstack/docextract-worker/internal/logging"
)

// RemoteEngine implements Engine against an HTTP OCR service.
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewRemoteEngine creates a remote OCR engine for the given base URL.
func NewRemoteEngine(baseURL string) *RemoteEngine {
	return &RemoteEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // recognition of dense pages can take a while
		},
		logger: logging.NewLogger("RemoteOCR"),
	}
}

func (e *RemoteEngine) Name() string { return "remote" }

func (e *RemoteEngine) Close() error { return nil }

type remoteRequest struct {
	Image     string   `json:"image"` // base64 encoded PNG
	DPI       int      `json:"dpi,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

type remoteResponse struct {
	Blocks []TextBlock `json:"blocks"`
}

// Recognize posts the page image and converts the response into reading-order
// blocks with clamped confidences.
func (e *RemoteEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	payload, err := json.Marshal(remoteRequest{
		Image:     base64.StdEncoding.EncodeToString(in.Image),
		DPI:       in.DPI,
		Languages: in.Languages,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/recognize", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call OCR service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("OCR service returned non-OK status", "status", resp.StatusCode)
		return Result{}, fmt.Errorf("OCR service returned HTTP %d: %s", resp.StatusCode, firstLine(body))
	}

	var out remoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	blocks := make([]TextBlock, 0, len(out.Blocks))
	for _, b := range out.Blocks {
		if b.Text == "" {
			continue
		}
		b.Confidence = Clamp(b.Confidence)
		blocks = append(blocks, b)
	}
	blocks = AssignReadingOrder(blocks)

	return Result{
		Blocks:         blocks,
		PlainText:      JoinBlocks(blocks),
		MeanConfidence: MeanConfidence(blocks),
	}, nil
}

func firstLine(body []byte) string {
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
