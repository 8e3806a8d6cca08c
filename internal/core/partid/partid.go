// Package partid canonicalizes part and equipment identifiers so that
// spellings such as "0131M00008P", "0131m-00008p" and " 0131M 00008P" compare
// equal. Canonical forms are used for equality only and are never displayed.
package partid

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/agenthands/partgraph/internal/apperr"
)

// MaxLength bounds the canonical form of an identifier, in runes.
const MaxLength = 64

// Normalize returns the canonical form of id: NFKC-folded, with whitespace
// and dash separators removed, upper-cased. It is total and idempotent.
func Normalize(id string) string {
	folded := norm.NFKC.String(id)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if isSeparator(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Pd, r) || r == '−'
}

func isControl(r rune) bool {
	return unicode.IsControl(r) && !unicode.IsSpace(r)
}

// Equal reports whether a and b name the same part.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Validate checks that id is usable as a graph identity and returns its
// canonical form.
func Validate(id string) (string, error) {
	if strings.IndexFunc(id, isControl) >= 0 {
		return "", apperr.Validation("identifier %q contains control characters", id)
	}
	key := Normalize(id)
	if key == "" {
		return "", apperr.Validation("identifier is empty")
	}
	if utf8.RuneCountInString(key) > MaxLength {
		return "", apperr.Validation("identifier exceeds %d characters", MaxLength)
	}
	return key, nil
}
