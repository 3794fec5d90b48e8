package engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde", truncate("abcde", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 2))
}

func TestTruncate_CutsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10) // two bytes per rune

	out := truncate(s, 5) // byte 5 is mid-rune
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "éé…", out)

	out = truncate(s, 4) // byte 4 is a rune start
	assert.Equal(t, "éé…", out)
}
