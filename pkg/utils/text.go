// Package utils provides shared helpers for logging and text.
package utils

import "unicode/utf8"

// Truncate returns s cut to maxLen runes, with "..." appended if anything was cut.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
