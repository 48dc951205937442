package verification

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// homoglyphs folds characters OCR commonly confuses onto the digit they
// resemble. Both cases are listed so folding works before and after
// upper-casing.
var homoglyphs = strings.NewReplacer(
	"l", "1", "I", "1", "|", "1",
	"O", "0", "o", "0",
	"S", "5", "s", "5",
	"Z", "2", "z", "2",
	"G", "6", "g", "6",
	"B", "8", "b", "8",
)

// NormalizeIdentifier trims s, folds homoglyphs and upper-cases the rest.
// NormalizeIdentifier(NormalizeIdentifier(s)) == NormalizeIdentifier(s).
func NormalizeIdentifier(s string) string {
	s = homoglyphs.Replace(strings.TrimSpace(s))
	return homoglyphs.Replace(strings.ToUpper(s))
}

// Similarity returns 1 - lev(a', b') / max(len(a'), len(b')) over the
// normalized forms, measured in runes. Two empty strings are identical.
func Similarity(a, b string) float64 {
	na, nb := NormalizeIdentifier(a), NormalizeIdentifier(b)
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}
