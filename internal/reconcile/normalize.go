package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes an item name for comparison: lowercase, accents
// folded to their base letter, every rune that is not a letter or digit
// replaced by a space, whitespace collapsed and trimmed.
//
// Two names are the same item if and only if their normalized forms are equal.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	folded, _, err := transform.String(foldMarks(), strings.ToLower(raw))
	if err != nil {
		folded = strings.ToLower(raw)
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte(' ')
		}
	}
	return collapseSpaces(b.String())
}

// foldMarks is built per call: transformers carry state and are not safe
// for concurrent use.
func foldMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
