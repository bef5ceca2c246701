package terminal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Feed("\x1b[31mred\x1b[0m\r\n")
	assert.Equal(t, "\x1b[31mred\x1b[0m\r\n", buf.String())
}

func TestScreenRendersEscapes(t *testing.T) {
	s := NewScreen(20, 5)
	s.Feed("\x1b[1;32mok\x1b[0m line one\r\n")
	s.Feed("second\r\n")
	s.Feed("third\x1b[2D__")

	lines := s.Lines()
	assert.Len(t, lines, 5)
	assert.Equal(t, "ok line one", lines[0])
	assert.Equal(t, "second", lines[1])
	assert.Equal(t, "thi__", lines[2])
	assert.Equal(t, "ok line one\nsecond\nthi__", s.Text())
}

func TestScreenResize(t *testing.T) {
	s := NewScreen(0, 0)
	assert.Len(t, s.Lines(), 24)
	s.Resize(40, 10)
	assert.Len(t, s.Lines(), 10)
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	Tee{NewWriter(&a), NewWriter(&b)}.Feed("x")
	assert.Equal(t, "x", a.String())
	assert.Equal(t, "x", b.String())
}
