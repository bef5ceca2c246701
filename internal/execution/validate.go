package execution

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// validateCommand rejects empty, oversized and control-character input.
// Tab, newline and carriage return are the only controls allowed.
func validateCommand(command string, maxLength int) error {
	if strings.TrimSpace(command) == "" {
		return newError(CodeValidation, "Command is required")
	}
	if len(command) > maxLength {
		return newError(CodeValidation, "Command exceeds maximum length of %d bytes", maxLength)
	}
	if !utf8.ValidString(command) {
		return newError(CodeValidation, "Command is not valid UTF-8")
	}
	for i, r := range command {
		switch r {
		case '\t', '\n', '\r':
			continue
		}
		if !unicode.IsPrint(r) {
			return newError(CodeValidation, "Command contains a non-printable character at byte %d", i)
		}
	}
	return nil
}

func validateSize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 0xFFFF || rows > 0xFFFF {
		return newError(CodeValidation, "Invalid terminal size %dx%d", cols, rows)
	}
	return nil
}
