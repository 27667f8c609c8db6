// core/pathutil.go
package core

import "strings"

// PathEqual compares two paths the way the whole package compares paths:
// trailing native and alternative directory separators are trimmed from
// both sides, then the remainder is compared under ASCII case-folding.
// This is the single comparator used everywhere a path or name is
// matched (excludes, prior-source, subdirectory/file lookup in the sum).
func PathEqual(a, b string) bool {
	a = trimTrailingSeparators(a)
	b = trimTrailingSeparators(b)
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func trimTrailingSeparators(p string) string {
	return strings.TrimRight(p, "/\\")
}

// NewlineEncode escapes backslash, LF and CR so the result can be stored
// as a single line in a line-oriented file. All other bytes pass through
// unchanged.
func NewlineEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// NewlineDecode inverts NewlineEncode. On an escape character, the next
// byte selects the decoded value; anything else (including an escape
// character at the very end of the string) is left as a literal
// backslash.
func NewlineDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte('\\')
		}
	}
	return b.String()
}
