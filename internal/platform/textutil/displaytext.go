package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanDisplayText normalizes user-entered text for storage: Unicode NFC so
// visually identical inputs compare equal, control characters stripped, and
// runs of whitespace collapsed to single spaces.
func CleanDisplayText(input string) string {
	normalized := norm.NFC.String(input)
	var b strings.Builder
	b.Grow(len(normalized))
	lastSpace := true
	for _, r := range normalized {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimRight(b.String(), " ")
}
