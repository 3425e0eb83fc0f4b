// Package utils collects small helpers shared across the router, gateway, and
// backend packages that don't warrant a package of their own.
package utils

import (
	"strings"
	"unicode"
)

// SanitizeForLog escapes control characters so an untrusted string (a model
// name, a checkpoint ref) cannot inject fake log lines or break terminal
// output. maxLength truncates the result; pass 0 or a negative value to
// disable truncation. Default is 100.
func SanitizeForLog(s string, maxLength ...int) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case unicode.IsControl(r):
			result.WriteString("?")
		case r == '\\':
			result.WriteString("\\\\")
		case unicode.IsPrint(r):
			result.WriteRune(r)
		default:
			result.WriteString("?")
		}
	}

	maxLen := 100
	if len(maxLength) > 0 {
		maxLen = maxLength[0]
	}

	if maxLen > 0 && result.Len() > maxLen {
		return result.String()[:maxLen] + "...[truncated]"
	}

	return result.String()
}
