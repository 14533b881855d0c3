// Package normalize provides Unicode-aware comparison for user-entered text
// such as tag names and highlight search terms.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Name trims surrounding whitespace and composes the string to NFC,
// so that visually identical names are stored identically.
func Name(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Fold returns the case-folded NFC form of s. Two names collide when their folds are equal.
func Fold(s string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(norm.NFC.String(s))
}

// EqualFold reports whether a and b are equal under Unicode case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ContainsFold reports whether sub occurs in s, ignoring case.
// An empty sub matches everything.
func ContainsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	return strings.Contains(Fold(s), Fold(sub))
}

// Note trims a free-text note. An empty result means no note.
func Note(s string) string {
	return strings.TrimSpace(s)
}
