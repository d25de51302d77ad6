// Package canon derives the canonical keys used to detect duplicate names.
package canon

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize returns the canonical key for a display name: surrounding
// whitespace removed, NFC normalised and fully case folded. Two names with the
// same key denote the same logical record.
func Canonicalize(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(trimmed))
}

// Equal reports whether two names share a canonical key.
func Equal(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}

// Slug folds a name into a lookup token: accents stripped, lower case, every
// run of non alphanumeric characters collapsed into a single underscore.
// "Funcionário" and "funcionario" both become "funcionario".
//
// Slugs are loose and may collide for names that Canonicalize keeps apart, so
// they are only used for resolving user input, never as a uniqueness key.
func Slug(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	var b strings.Builder
	b.Grow(len(stripped))
	pending := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
