package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// noise tokens carry no matching signal in bank narrations.
var noise = map[string]struct{}{
	"the": {}, "to": {}, "from": {}, "for": {}, "of": {}, "a": {}, "an": {},
	"payment": {}, "pmt": {}, "ref": {}, "reference": {},
}

// Similarity returns a token-overlap score in [0,1] between two
// free-text narrations (Dice coefficient over case-folded token sets).
func Similarity(a, b string) float64 {
	ta := Tokenize(a)
	tb := Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	common := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(ta)+len(tb))
}

// Tokenize case-folds the text, splits on non-alphanumeric runes, and
// drops noise tokens.
func Tokenize(s string) map[string]struct{} {
	folded := cases.Fold().String(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, skip := noise[f]; skip {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
