package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TayTech/claude-remote/internal/ptyhandle"
)

// ErrorCode classifies a synchronous rejection returned in an ack.
type ErrorCode string

const (
	CodeTooManyExecutions ErrorCode = "TOO_MANY_EXECUTIONS"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeProjectNotFound   ErrorCode = "PROJECT_NOT_FOUND"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error is an admission, race or not-found rejection. No process is
// spawned when one is returned.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// RuntimeCode classifies an asynchronous failure reported after the ack.
type RuntimeCode string

const (
	RuntimeProcessFailed   RuntimeCode = "PROCESS_FAILED"
	RuntimeTimeout         RuntimeCode = "TIMEOUT"
	RuntimeCancelled       RuntimeCode = "CANCELLED"
	RuntimeSessionNotFound RuntimeCode = "SESSION_NOT_FOUND"
)

// classifyRuntimeError picks the code for a failure. A cancelled execution
// always reports CANCELLED, whatever error ended it.
func classifyRuntimeError(cancelled bool, err error) RuntimeCode {
	switch {
	case cancelled:
		return RuntimeCancelled
	case err == nil:
		return RuntimeProcessFailed
	case errors.Is(err, ptyhandle.ErrTimeout),
		strings.Contains(strings.ToLower(err.Error()), "timeout"),
		strings.Contains(strings.ToLower(err.Error()), "timed out"):
		return RuntimeTimeout
	default:
		return RuntimeProcessFailed
	}
}
