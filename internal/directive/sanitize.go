package directive

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sanitize strips control and invisible format characters (zero-width
// spaces, BOM, bidi marks) while keeping tab, newline and carriage return.
// The result is NFC-normalized.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		case '\u2028', '\u2029':
			return '\n'
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// normalizeToken upper-cases s and folds separators to underscores, so
// "show-products", "Show Products" and "SHOW_PRODUCTS" compare equal.
func normalizeToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '.' {
			return '_'
		}
		return unicode.ToUpper(r)
	}, s)
	return s
}
