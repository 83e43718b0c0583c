// Package classify wraps the external classification capability that turns
// extracted document text into a structured risk assessment.
package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/domain"
)

// ErrMalformedResult marks a classifier answer that does not have the
// required shape. Such answers are never partially trusted.
var ErrMalformedResult = errors.New("malformed classification result")

var (
	Categories = []string{"bolletta", "truffa", "avviso", "contratto", "inps", "entrate", "telefonia", "altro"}
	RiskLevels = []string{"basso", "medio", "alto"}
)

// requiredFields lists the JSON keys every answer must carry as strings.
var requiredFields = []string{
	"categoria", "rischio", "mittente", "importo", "scadenza",
	"sintesi", "spiegazione", "azione", "risposta_whatsapp",
}

// Parse decodes a raw classifier answer into a Classification, rejecting any
// missing or mis-typed field.
func Parse(raw string) (domain.Classification, error) {
	body := stripFences(raw)
	if body == "" {
		return domain.Classification{}, eris.Wrap(ErrMalformedResult, "empty answer")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return domain.Classification{}, eris.Wrapf(ErrMalformedResult, "not a JSON object: %v", err)
	}

	values := make(map[string]string, len(requiredFields))
	for _, key := range requiredFields {
		rawVal, ok := fields[key]
		if !ok {
			return domain.Classification{}, eris.Wrapf(ErrMalformedResult, "missing field %q", key)
		}
		var s string
		rawVal = bytes.TrimSpace(rawVal)
		if len(rawVal) == 0 || rawVal[0] != '"' {
			return domain.Classification{}, eris.Wrapf(ErrMalformedResult, "field %q is not a string", key)
		}
		if err := json.Unmarshal(rawVal, &s); err != nil {
			return domain.Classification{}, eris.Wrapf(ErrMalformedResult, "field %q is not a string", key)
		}
		values[key] = strings.TrimSpace(s)
	}

	c := domain.Classification{
		Category:    strings.ToLower(values["categoria"]),
		Risk:        strings.ToLower(values["rischio"]),
		Sender:      values["mittente"],
		Amount:      values["importo"],
		Deadline:    values["scadenza"],
		Summary:     values["sintesi"],
		Explanation: values["spiegazione"],
		Action:      values["azione"],
		Reply:       values["risposta_whatsapp"],
	}
	if err := Validate(c); err != nil {
		return domain.Classification{}, err
	}
	return c, nil
}

// Validate checks the enumerated fields and the mandatory summary.
func Validate(c domain.Classification) error {
	if !contains(Categories, c.Category) {
		return eris.Wrapf(ErrMalformedResult, "unknown category %q", c.Category)
	}
	if !contains(RiskLevels, c.Risk) {
		return eris.Wrapf(ErrMalformedResult, "unknown risk level %q", c.Risk)
	}
	if c.Summary == "" {
		return eris.Wrap(ErrMalformedResult, "empty summary")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// stripFences drops a surrounding ```json ... ``` block some models emit.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
