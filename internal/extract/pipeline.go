package extract

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const pageSeparator = "\n\n"

// Pipeline runs the tiered extraction policy.
type Pipeline struct {
	cfg    Config
	docs   DocumentOpener
	ocr    Recognizer
	logger *zap.Logger
}

func NewPipeline(cfg Config, docs DocumentOpener, ocr Recognizer, logger *zap.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.TextPages <= 0 {
		cfg.TextPages = def.TextPages
	}
	if cfg.RasterPages <= 0 {
		cfg.RasterPages = def.RasterPages
	}
	if cfg.RasterDPI <= 0 {
		cfg.RasterDPI = def.RasterDPI
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, docs: docs, ocr: ocr, logger: logger}
}

// Extract turns raw upload bytes into text. Unreadable input yields a
// QualityRejected outcome; only capability failures are returned as errors.
func (p *Pipeline) Extract(ctx context.Context, data []byte, contentType string) (Outcome, error) {
	switch ct := NormalizeContentType(contentType); ct {
	case MIMEPDF:
		return p.extractPDF(ctx, data)
	case MIMEJPEG, MIMEPNG, MIMEWebP:
		return p.extractImage(ctx, data)
	default:
		return Outcome{}, eris.Errorf("extract: unsupported content type %q", ct)
	}
}

func (p *Pipeline) extractPDF(ctx context.Context, data []byte) (Outcome, error) {
	doc, err := p.docs.Open(data)
	if err != nil {
		p.logger.Info("extract: unreadable pdf", zap.Error(err))
		return p.gate("", SourceDirectText, 0), nil
	}
	defer doc.Close()

	n := min(doc.NumPage(), p.cfg.TextPages)
	var chunks []string
	for i := 0; i < n; i++ {
		t, err := doc.Text(i)
		if err != nil {
			return Outcome{}, eris.Wrapf(err, "extract: text of page %d", i)
		}
		if t = strings.TrimSpace(t); t != "" {
			chunks = append(chunks, t)
		}
	}
	direct := p.gate(strings.Join(chunks, pageSeparator), SourceDirectText, n)
	if direct.Ready() {
		return direct, nil
	}

	n = min(doc.NumPage(), p.cfg.RasterPages)
	chunks = chunks[:0]
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		img, err := doc.Render(i, float64(p.cfg.RasterDPI))
		if err != nil {
			return Outcome{}, eris.Wrapf(err, "extract: render page %d", i)
		}
		t, err := p.recognize(ctx, img, p.cfg.RasterDPI)
		if err != nil {
			return Outcome{}, err
		}
		if t != "" {
			chunks = append(chunks, t)
		}
	}
	return p.gate(strings.Join(chunks, pageSeparator), SourceRasterOCR, n), nil
}

func (p *Pipeline) extractImage(ctx context.Context, data []byte) (Outcome, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		p.logger.Info("extract: undecodable image", zap.Error(err))
		return p.gate("", SourceImageOCR, 0), nil
	}
	p.logger.Debug("extract: decoded image", zap.String("format", format))

	t, err := p.recognize(ctx, img, 0)
	if err != nil {
		return Outcome{}, err
	}
	return p.gate(t, SourceImageOCR, 1), nil
}

func (p *Pipeline) recognize(ctx context.Context, img image.Image, dpi int) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Preprocess(img)); err != nil {
		return "", eris.Wrap(err, "extract: encode preprocessed page")
	}
	text, err := p.ocr.Recognize(ctx, OCRInput{Image: buf.Bytes(), DPI: dpi})
	if err != nil {
		return "", eris.Wrap(err, "extract: ocr")
	}
	return strings.TrimSpace(text), nil
}

// gate applies the minimum-length quality threshold.
func (p *Pipeline) gate(text string, src Source, pages int) Outcome {
	text = strings.TrimSpace(text)
	status := StatusReady
	if utf8.RuneCountInString(text) < p.cfg.MinChars {
		status = StatusQualityRejected
	}
	return Outcome{Status: status, Source: src, Text: text, Pages: pages}
}
