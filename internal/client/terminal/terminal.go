// Package terminal holds the terminal surfaces execution output is fed to.
package terminal

import (
	"io"
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// Writer passes output through unchanged to a real terminal.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Feed writes data as is.
func (t *Writer) Feed(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, data)
}

// Screen emulates a terminal with vt10x so output full of escape
// sequences can be rendered as plain text.
type Screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

// NewScreen creates a cols x rows screen.
func NewScreen(cols, rows int) *Screen {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Feed writes data to the emulator.
func (s *Screen) Feed(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write([]byte(data))
}

// Resize changes the emulated size.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// Lines returns the visible rows with trailing blanks trimmed.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, s.rows)
	for row := 0; row < s.rows; row++ {
		chars := make([]rune, s.cols)
		for col := 0; col < s.cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				chars[col] = ' '
			} else {
				chars[col] = g.Char
			}
		}
		lines[row] = strings.TrimRight(string(chars), " ")
	}
	return lines
}

// Text returns the visible rows joined by newlines, without trailing
// empty rows.
func (s *Screen) Text() string {
	lines := s.Lines()
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// Tee feeds every surface in order.
type Tee []interface{ Feed(string) }

// Feed implements the feeder interface.
func (t Tee) Feed(data string) {
	for _, f := range t {
		f.Feed(data)
	}
}
