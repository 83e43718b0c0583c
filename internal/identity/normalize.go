// Package identity turns raw contact strings into canonical account keys.
package identity

import (
	"strings"
)

// DefaultMaxNationalDigits bounds the national part of a number. Anything
// longer that still starts with the country code twice is treated as a
// doubled prefix.
const DefaultMaxNationalDigits = 10

// Normalizer canonicalises phone-like identities to "+<cc><national>".
type Normalizer struct {
	CountryCode       string
	MaxNationalDigits int
}

// NewNormalizer returns a Normalizer for the given default country code.
func NewNormalizer(countryCode string) Normalizer {
	return Normalizer{
		CountryCode:       strings.TrimLeft(strings.TrimSpace(countryCode), "+"),
		MaxNationalDigits: DefaultMaxNationalDigits,
	}
}

// Normalize is pure and idempotent. An input without digits yields "".
func (n Normalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if !plus && strings.HasPrefix(digits, "00") {
		digits = strings.TrimPrefix(digits, "00")
		plus = true
	}
	if !plus {
		digits = n.CountryCode + digits
	}

	cc := n.CountryCode
	maxNational := n.MaxNationalDigits
	if maxNational <= 0 {
		maxNational = DefaultMaxNationalDigits
	}
	if cc != "" {
		for strings.HasPrefix(digits, cc+cc) && len(digits)-len(cc) > maxNational {
			digits = digits[len(cc):]
		}
	}
	if digits == "" {
		return ""
	}
	return "+" + digits
}
