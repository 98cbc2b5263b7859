package guild

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Guild name bounds, in runes, after sanitizing.
const (
	MinNameLength = 2
	MaxNameLength = 20
)

var (
	disallowed = regexp.MustCompile(`[\p{S}\p{C}\p{P}]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// SanitizeName composes name to NFC, cuts it to MaxNameLength runes, strips symbols,
// punctuation and control characters, and collapses runs of whitespace.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	name = disallowed.ReplaceAllString(name, "")
	name = spaces.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// ValidName reports whether a sanitized name is long enough.
func ValidName(name string) bool {
	return utf8.RuneCountInString(name) >= MinNameLength
}
