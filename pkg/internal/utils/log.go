package utils

import (
	"strings"
	"unicode"
)

// maxLogLength bounds identifiers taken from requests and config documents.
const maxLogLength = 128

// SanitizeForLog makes a caller-provided string safe to embed in a log line.
// Line breaks and tabs are escaped, other control or non-printable runes are
// replaced with '?', and the result is truncated to maxLogLength runes.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == maxLogLength {
			b.WriteString("...[truncated]")
			break
		}
		n++
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\\':
			b.WriteString(`\\`)
		case unicode.IsControl(r), !unicode.IsPrint(r):
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
