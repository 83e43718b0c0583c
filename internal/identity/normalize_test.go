package identity

import "testing"

func TestNormalize(t *testing.T) {
	n := NewNormalizer("39")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"national with spaces", "333 123 4567", "+393331234567"},
		{"international 00 prefix", "0039-333-1234567", "+393331234567"},
		{"already canonical", "+393331234567", "+393331234567"},
		{"country code without plus", "393331234567", "+393331234567"},
		{"doubled prefix", "+39393331234567", "+393331234567"},
		{"national number starting with 39", "+393931234567", "+393931234567"},
		{"punctuation", "(333) 123-4567", "+393331234567"},
		{"foreign number keeps its code", "+44 20 7946 0958", "+442079460958"},
		{"plus not leading is dropped", "333+1234567", "+393331234567"},
		{"empty", "", ""},
		{"no digits", "abc", ""},
		{"bare plus", "+", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer("+39")
	inputs := []string{
		"333 123 4567", "0039-333-1234567", "+393331234567", "39393331234567",
		"+3939393331234567", "+1 (555) 010-9999", "", "  12  ",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		if twice := n.Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestNormalizeSameCanonicalID(t *testing.T) {
	n := NewNormalizer("39")
	a := n.Normalize("333 123 4567")
	b := n.Normalize("0039-333-1234567")
	c := n.Normalize("+393331234567")
	if a != b || b != c {
		t.Fatalf("expected one canonical id, got %q %q %q", a, b, c)
	}
}
