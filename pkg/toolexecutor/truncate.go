package toolexecutor

import (
	"fmt"
	"unicode/utf8"
)

// Truncate keeps the first limit characters of s and appends a marker naming
// how many were dropped. A limit of 0 or less leaves s untouched.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}

	total := utf8.RuneCountInString(s)
	if total <= limit {
		return s, false
	}

	runes := []rune(s)
	return string(runes[:limit]) + fmt.Sprintf("\n... [truncated %d characters]", total-limit), true
}
