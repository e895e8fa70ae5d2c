package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes to NFD, strips combining marks and recomposes,
// so "Bogotá" and "Bogota" match the same keyword.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, folds diacritics and collapses whitespace.
func Normalize(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		// Transform failure leaves the input usable as-is; matching degrades
		// gracefully to the unfolded text.
		folded = s
	}

	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// TextBlob builds the normalized matching text for an entry.
func TextBlob(title, summary string) string {
	return Normalize(strings.TrimSpace(title + " " + summary))
}
