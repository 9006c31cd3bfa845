// Package ui provides terminal styling for fomcp CLI output.
package ui

import "unicode/utf8"

// TruncateSimple performs simple end truncation with "..." suffix.
// UTF-8 safe.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
