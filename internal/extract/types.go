// Package extract converts uploaded document bytes into analysable text using
// a tiered strategy: embedded PDF text first, OCR of rendered pages second,
// and a minimum-length quality gate on the result.
package extract

import (
	"context"
	"image"
	"mime"
	"strings"
)

// Supported upload content types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
	MIMEPDF  = "application/pdf"
)

// NormalizeContentType lowercases ct and drops any parameters.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}

// ResolveContentType picks the effective type of an upload. Generic or
// missing part headers fall back to the filename extension for PDFs.
func ResolveContentType(ct, filename string) string {
	ct = NormalizeContentType(ct)
	if strings.Contains(ct, "pdf") {
		return MIMEPDF
	}
	if (ct == "" || ct == "application/octet-stream") &&
		strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return MIMEPDF
	}
	return ct
}

// Supported reports whether ct is an accepted upload type.
func Supported(ct string) bool {
	switch NormalizeContentType(ct) {
	case MIMEJPEG, MIMEPNG, MIMEWebP, MIMEPDF:
		return true
	}
	return false
}

// Source tags which extraction path produced the text.
type Source string

const (
	SourceDirectText Source = "direct-text"
	SourceRasterOCR  Source = "raster-ocr"
	SourceImageOCR   Source = "image-ocr"
)

// Status is the terminal state of one extraction run.
type Status string

const (
	StatusReady           Status = "ready"
	StatusQualityRejected Status = "quality_rejected"
)

// Outcome is the result of Pipeline.Extract. A QualityRejected outcome is a
// normal result, not an error.
type Outcome struct {
	Status Status
	Source Source
	Text   string
	Pages  int
}

// Ready reports whether the text passed the quality gate.
func (o Outcome) Ready() bool { return o.Status == StatusReady }

// OCRInput is one preprocessed page image submitted for recognition.
type OCRInput struct {
	// Image is PNG-encoded.
	Image []byte
	// DPI is the rendering resolution, zero when unknown.
	DPI int
}

// Recognizer is the OCR capability.
type Recognizer interface {
	Recognize(ctx context.Context, in OCRInput) (string, error)
}

// Document is an opened paginated document.
type Document interface {
	NumPage() int
	Text(page int) (string, error)
	Render(page int, dpi float64) (image.Image, error)
	Close() error
}

// DocumentOpener is the PDF capability.
type DocumentOpener interface {
	Open(data []byte) (Document, error)
}

// Config holds the pipeline tunables.
type Config struct {
	TextPages   int
	RasterPages int
	RasterDPI   int
	MinChars    int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		TextPages:   3,
		RasterPages: 2,
		RasterDPI:   200,
		MinChars:    30,
	}
}
