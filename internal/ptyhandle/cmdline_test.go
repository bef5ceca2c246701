package ptyhandle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", `""`},
		{"simple", "simple"},
		{"with space", `"with space"`},
		{"with\ttab", "\"with\ttab\""},
		{`say "hi"`, `"say \"hi\""`},
		{`C:\path\to`, `C:\path\to`},
		{`C:\dir with space\`, `"C:\dir with space\\"`},
		{`a\"b`, `a\\\"b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeArg(tt.in), "input %q", tt.in)
	}
}

func TestBuildCmdLine(t *testing.T) {
	got := buildCmdLine([]string{"claude", "-p", "fix the bug", "--session-id", "abc"})
	assert.Equal(t, `claude -p "fix the bug" --session-id abc`, got)
}
