package core

import "testing"

import "github.com/stretchr/testify/require"

func TestPathEqual(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"/foo/bar", "/foo/bar", true},
		{"/foo/bar/", "/foo/bar", true},
		{`/foo/bar\`, "/foo/bar", true},
		{"/FOO/Bar", "/foo/bar", true},
		{"/foo/bar", "/foo/baz", false},
		{"C:\\Users\\x\\", "c:\\users\\x", true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, PathEqual(c.a, c.b), "PathEqual(%q, %q)", c.a, c.b)
	}
}

func TestNewlineEncodeDecodeRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"has\nnewline",
		"has\rcarriage",
		`has\backslash`,
		"mixed\\\n\rvalue",
	}
	for _, in := range inputs {
		encoded := NewlineEncode(in)
		require.NotContains(t, encoded, "\n")
		require.NotContains(t, encoded, "\r")
		require.Equal(t, in, NewlineDecode(encoded))
	}
}

func TestNewlineDecodeTrailingBackslashIsLiteral(t *testing.T) {
	require.Equal(t, `a\`, NewlineDecode(`a\`))
}

func TestNewlineDecodeUnknownEscapeIsLiteralBackslash(t *testing.T) {
	require.Equal(t, `\q`, NewlineDecode(`\q`))
}
