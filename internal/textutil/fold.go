package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns a case- and accent-insensitive form of s suitable for
// equality and substring comparisons.
func Fold(s string) string {
	// Transformers and casers are stateful, so both are built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(strings.TrimSpace(stripped))
}

// NormalizeTitle folds s and reduces punctuation runs to single spaces, so
// "Amélie!" and "amelie" compare equal. Used to key items that have no
// catalog id.
func NormalizeTitle(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

var leadingArticles = []string{"the ", "a ", "an "}

// SortTitle returns the normalized title with a leading English article
// removed, for alphabetical ordering.
func SortTitle(s string) string {
	title := NormalizeTitle(s)
	for _, article := range leadingArticles {
		if rest, ok := strings.CutPrefix(title, article); ok && rest != "" {
			return rest
		}
	}
	return title
}
