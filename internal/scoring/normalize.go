// Package scoring implements the deterministic free-text scoring core:
// text normalization shared by every matching path, and rubric-based
// keyword scoring with optional misspelling tolerance.
package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// germanFolder maps German-specific characters to their ASCII spellings.
// Applied before generic diacritic stripping so that "ä" becomes "ae"
// rather than collapsing to "a".
var germanFolder = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "ae", "Ö", "oe", "Ü", "ue", "ẞ", "ss",
)

// stripMarks removes combining diacritical marks after NFD decomposition.
var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize canonicalizes free text for keyword comparison: lower-case,
// German umlaut/ß folding, diacritic stripping, removal of everything that
// is not a letter, digit, whitespace or one of % + . / - (kept because
// they occur in dosage and percentage keywords), and whitespace collapsing.
//
// Normalize is pure, total and idempotent; it returns "" for "".
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = germanFolder.Replace(s)
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("%+./-", r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
