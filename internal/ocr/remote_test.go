package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteEngineRecognize(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recognize" {
			t.Errorf("path = %q, want /v1/recognize", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		var req struct {
			Image     string   `json:"image"`
			DPI       int      `json:"dpi"`
			Languages []string `json:"languages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if decoded, _ := base64.StdEncoding.DecodeString(req.Image); string(decoded) != string(image) {
			t.Error("image bytes did not round-trip through base64")
		}
		if req.DPI != 300 {
			t.Errorf("dpi = %d, want 300", req.DPI)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"blocks": []map[string]interface{}{
				{
					"text":       "second line",
					"box":        map[string]int{"x": 10, "y": 60, "width": 200, "height": 20},
					"confidence": 0.8,
				},
				{
					"text":       "first line",
					"box":        map[string]int{"x": 10, "y": 10, "width": 200, "height": 20},
					"confidence": 1.4, // out of range, must be clamped
				},
				{
					"text":       "",
					"confidence": 0.9, // empty text, must be dropped
				},
			},
		})
	}))
	defer server.Close()

	engine := NewRemoteEngine(server.URL)
	defer engine.Close()

	result, err := engine.Recognize(context.Background(), Input{
		Image:     image,
		DPI:       300,
		Languages: []string{"eng"},
	})
	if err != nil {
		t.Fatalf("Recognize() failed: %v", err)
	}

	if len(result.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(result.Blocks))
	}
	if result.Blocks[0].Text != "first line" || result.Blocks[1].Text != "second line" {
		t.Errorf("blocks not in reading order: %q, %q", result.Blocks[0].Text, result.Blocks[1].Text)
	}
	if result.Blocks[0].Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", result.Blocks[0].Confidence)
	}
	if result.PlainText != "first line\nsecond line" {
		t.Errorf("PlainText = %q", result.PlainText)
	}
	if math.Abs(result.MeanConfidence-0.9) > 1e-9 {
		t.Errorf("MeanConfidence = %v, want 0.9", result.MeanConfidence)
	}
}

func TestRemoteEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	engine := NewRemoteEngine(server.URL)
	if _, err := engine.Recognize(context.Background(), Input{Image: []byte{1}}); err == nil {
		t.Error("expected error for HTTP 503 response")
	}
}

func TestRemoteEngineRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewRemoteEngine(server.URL)
	if _, err := engine.Recognize(ctx, Input{Image: []byte{1}}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
