package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, neither of which
// text or jsonb columns accept.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizeURI sanitizes a URI column and trims surrounding whitespace, so a
// stray space in the input cannot create a second registry entry.
func SanitizeURI(value string) string {
	return strings.TrimSpace(SanitizePostgresText(value))
}
