// Package casing converts identifiers between the internal snake_case
// convention and the hyphenated wire convention.
package casing

import (
	"strings"
	"unicode"
)

// Kebab converts snake_case to kebab-case.
func Kebab(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}

// Dekebab converts kebab-case back to snake_case.
func Dekebab(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// Snake converts a Go identifier such as "CreateWidget" or "UserID" to
// snake_case ("create_widget", "user_id"). Already lower-case input is
// returned unchanged.
func Snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Label renders a constant name ("IN_PROGRESS", "InProgress") as a
// lower-case hyphenated label ("in-progress").
func Label(name string) string {
	if strings.ToUpper(name) == name {
		return Kebab(strings.ToLower(name))
	}
	return Kebab(Snake(name))
}
