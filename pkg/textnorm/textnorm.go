// Package textnorm folds free text into a comparable form for keyword and name matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Tokens splits folded text on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsAny reports whether folded text contains any of the folded phrases.
// Single-word phrases must match a whole token; multi-word phrases match as substrings.
func ContainsAny(text string, phrases []string) bool {
	folded := " " + strings.Join(Tokens(text), " ") + " "
	for _, p := range phrases {
		fp := strings.Join(Tokens(p), " ")
		if fp == "" {
			continue
		}
		if strings.Contains(folded, " "+fp+" ") {
			return true
		}
	}
	return false
}
