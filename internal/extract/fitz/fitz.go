// Package fitz provides the PDF capability (page text and rasterisation)
// backed by MuPDF through go-fitz.
package fitz

import (
	"image"

	gofitz "github.com/gen2brain/go-fitz"
	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/extract"
)

var _ extract.DocumentOpener = Opener{}

// Opener implements extract.DocumentOpener.
type Opener struct{}

func (Opener) Open(data []byte) (extract.Document, error) {
	doc, err := gofitz.NewFromMemory(data)
	if err != nil {
		return nil, eris.Wrap(err, "fitz: open document")
	}
	return &document{doc: doc}, nil
}

type document struct {
	doc *gofitz.Document
}

func (d *document) NumPage() int { return d.doc.NumPage() }

func (d *document) Text(page int) (string, error) {
	t, err := d.doc.Text(page)
	if err != nil {
		return "", eris.Wrapf(err, "fitz: text page %d", page)
	}
	return t, nil
}

func (d *document) Render(page int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, eris.Wrapf(err, "fitz: render page %d", page)
	}
	return img, nil
}

func (d *document) Close() error { return d.doc.Close() }
