// Package tesseract provides the OCR capability backed by gosseract.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/extract"
)

// DefaultLanguage is the trained-data name used for recognition.
const DefaultLanguage = "ita"

// lstmOnly selects the LSTM engine (--oem 1). The engine mode is read only at
// init, so it reaches tesseract through a config file and not SetVariable.
const lstmOnly = "tessedit_ocr_engine_mode 1\n"

var _ extract.Recognizer = (*Recognizer)(nil)

// Recognizer implements extract.Recognizer, assuming a single uniform block
// of text per page.
type Recognizer struct {
	language      string
	clientFactory func() *gosseract.Client

	configOnce sync.Once
	configPath string
	configErr  error
}

func New(language string) *Recognizer {
	if language == "" {
		language = DefaultLanguage
	}
	return &Recognizer{language: language, clientFactory: gosseract.NewClient}
}

// Recognize runs OCR on one PNG page. Each call uses its own client so
// concurrent submissions never share tesseract state.
func (r *Recognizer) Recognize(ctx context.Context, in extract.OCRInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cfg, err := r.engineConfig()
	if err != nil {
		return "", err
	}
	c := r.clientFactory()
	defer c.Close()

	if err := c.SetConfigFile(cfg); err != nil {
		return "", eris.Wrap(err, "tesseract: set engine config")
	}
	if err := c.SetLanguage(r.language); err != nil {
		return "", eris.Wrap(err, "tesseract: set language")
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", eris.Wrap(err, "tesseract: set page segmentation")
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return "", eris.Wrap(err, "tesseract: set dpi")
		}
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return "", eris.Wrap(err, "tesseract: set image")
	}
	text, err := c.Text()
	if err != nil {
		return "", eris.Wrap(err, "tesseract: recognize")
	}
	return text, nil
}

func (r *Recognizer) engineConfig() (string, error) {
	r.configOnce.Do(func() {
		r.configPath, r.configErr = writeEngineConfig("")
	})
	return r.configPath, r.configErr
}

func writeEngineConfig(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "docledger-oem-*.cfg")
	if err != nil {
		return "", eris.Wrap(err, "tesseract: create engine config")
	}
	defer f.Close()
	if _, err := f.WriteString(lstmOnly); err != nil {
		return "", eris.Wrap(err, "tesseract: write engine config")
	}
	return f.Name(), nil
}
