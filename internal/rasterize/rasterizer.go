/**
 * Page Rasterizer
 *
 * Converts a PDF byte stream into an ordered sequence of page images using
 * poppler-utils (pdftoppm for rendering, pdfinfo for probing). Page images
 * are rendered into a per-document temporary directory that is always
 * released, whether rasterization succeeds or fails.
 */

package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
)

// PageImage is one rendered page. Index is 1-based and document-relative.
type PageImage struct {
	Index int
	PNG   []byte
}

// Rasterizer renders document bytes into ordered page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, documentID string, data []byte, dpi int) ([]PageImage, error)
}

// Poppler rasterizes PDFs by shelling out to pdftoppm.
type Poppler struct {
	PdftoppmPath string
	PdfinfoPath  string
	TempDir      string
}

// NewPoppler creates a poppler-backed rasterizer. Empty paths fall back to
// the usual install locations.
func NewPoppler(pdftoppmPath, pdfinfoPath, tempDir string) *Poppler {
	if pdftoppmPath == "" {
		pdftoppmPath = "/usr/bin/pdftoppm"
	}
	if pdfinfoPath == "" {
		pdfinfoPath = "/usr/bin/pdfinfo"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Poppler{
		PdftoppmPath: pdftoppmPath,
		PdfinfoPath:  pdfinfoPath,
		TempDir:      tempDir,
	}
}

// Rasterize renders every page of the document at the given DPI, in source
// page order. It fails with DocumentCorrupt for invalid PDF input and
// UnsupportedDocument for encrypted input.
func (p *Poppler) Rasterize(ctx context.Context, documentID string, data []byte, dpi int) ([]PageImage, error) {
	if !IsPDF(data) {
		return nil, pipeerrors.NewDocumentCorrupt(documentID, fmt.Errorf("missing %%PDF header"))
	}
	if dpi <= 0 {
		dpi = 300
	}

	workDir, err := os.MkdirTemp(p.TempDir, "docextract-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input pdf: %w", err)
	}

	info, err := p.probe(ctx, pdfPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pipeerrors.NewCancelled(documentID)
		}
		return nil, pipeerrors.NewDocumentCorrupt(documentID, err)
	}
	if info.Encrypted {
		return nil, pipeerrors.NewUnsupportedDocument(documentID, "document is encrypted or password-protected")
	}
	if info.Pages < 1 {
		return nil, pipeerrors.NewDocumentCorrupt(documentID, fmt.Errorf("document reports %d pages", info.Pages))
	}

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, p.PdftoppmPath,
		"-r", strconv.Itoa(dpi),
		"-png",
		pdfPath,
		prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, pipeerrors.NewCancelled(documentID)
		}
		return nil, pipeerrors.NewDocumentCorrupt(documentID,
			fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	pages, err := collectPages(workDir, "page")
	if err != nil {
		return nil, fmt.Errorf("collect page images: %w", err)
	}
	if len(pages) == 0 {
		return nil, pipeerrors.NewDocumentCorrupt(documentID, fmt.Errorf("rasterization produced no pages"))
	}
	if len(pages) != info.Pages {
		return nil, pipeerrors.NewDocumentCorrupt(documentID,
			fmt.Errorf("rendered %d pages, document reports %d", len(pages), info.Pages))
	}

	return pages, nil
}

// DocInfo carries the pdfinfo fields the rasterizer cares about.
type DocInfo struct {
	Pages     int
	Encrypted bool
}

func (p *Poppler) probe(ctx context.Context, pdfPath string) (DocInfo, error) {
	cmd := exec.CommandContext(ctx, p.PdfinfoPath, pdfPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return DocInfo{}, fmt.Errorf("pdfinfo: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return ParsePdfinfo(stdout.String())
}

// ParsePdfinfo extracts the page count and encryption flag from pdfinfo's
// key/value output.
func ParsePdfinfo(output string) (DocInfo, error) {
	info := DocInfo{Pages: -1}
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			pages, err := strconv.Atoi(value)
			if err != nil {
				return DocInfo{}, fmt.Errorf("unparseable page count %q", value)
			}
			info.Pages = pages
		case "Encrypted":
			info.Encrypted = strings.HasPrefix(value, "yes")
		}
	}
	if info.Pages < 0 {
		return DocInfo{}, fmt.Errorf("pdfinfo output missing page count")
	}
	return info, nil
}

// IsPDF reports whether data starts with the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// collectPages reads pdftoppm's output files ("<prefix>-1.png",
// "<prefix>-01.png", ...) and returns them ordered by page number.
func collectPages(dir, prefix string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pages := make([]PageImage, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, ok := PageNumberFromFilename(entry.Name(), prefix)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		pages = append(pages, PageImage{Index: index, PNG: data})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	return pages, nil
}

// PageNumberFromFilename parses the 1-based page number out of a pdftoppm
// output filename such as "page-07.png".
func PageNumberFromFilename(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".png") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".png")
	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 {
		return 0, false
	}
	return index, true
}
