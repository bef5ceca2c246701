package websocket

// StreamType tags the origin of an output chunk.
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	// StreamStderr is never produced by a PTY, which merges both streams.
	StreamStderr StreamType = "stderr"
	StreamSystem StreamType = "system"
)

// CommandErrorCode is the closed set of codes carried by command-error.
type CommandErrorCode string

const (
	CommandErrorProcessFailed   CommandErrorCode = "PROCESS_FAILED"
	CommandErrorTimeout         CommandErrorCode = "TIMEOUT"
	CommandErrorCancelled       CommandErrorCode = "CANCELLED"
	CommandErrorSessionNotFound CommandErrorCode = "SESSION_NOT_FOUND"
)

// StartCommandRequest is the payload of start-command. A nil SessionID
// starts a new agent session.
type StartCommandRequest struct {
	ProjectID     string  `json:"projectId"`
	SessionID     *string `json:"sessionId"`
	Command       string  `json:"command"`
	CorrelationID string  `json:"correlationId"`
}

// StartPTYRequest is the payload of start-pty.
type StartPTYRequest struct {
	ProjectID string  `json:"projectId"`
	SessionID *string `json:"sessionId"`
	Cols      int     `json:"cols"`
	Rows      int     `json:"rows"`
}

// CancelCommandRequest is the payload of cancel-command. ExecutionID may
// also be the correlation ID of a one-shot command.
type CancelCommandRequest struct {
	ExecutionID string `json:"executionId"`
}

// PTYInputRequest is the payload of pty-input.
type PTYInputRequest struct {
	ExecutionID string `json:"executionId"`
	Data        string `json:"data"`
}

// PTYResizeRequest is the payload of pty-resize.
type PTYResizeRequest struct {
	ExecutionID string `json:"executionId"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
}

// StartAck acknowledges start-command and start-pty.
type StartAck struct {
	Success       bool   `json:"success"`
	ExecutionID   string `json:"executionId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

// Ack acknowledges cancel-command, pty-input and pty-resize.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OutputChunk is the payload of output-chunk. Timestamp is unix milliseconds.
type OutputChunk struct {
	ExecutionID   string     `json:"executionId"`
	CorrelationID string     `json:"correlationId"`
	Type          StreamType `json:"type"`
	Content       string     `json:"content"`
	Timestamp     int64      `json:"timestamp"`
}

// CommandComplete is the payload of command-complete. Duration is in milliseconds.
type CommandComplete struct {
	ExecutionID   string `json:"executionId"`
	CorrelationID string `json:"correlationId"`
	ExitCode      int    `json:"exitCode"`
	SessionID     string `json:"sessionId,omitempty"`
	Duration      int64  `json:"duration"`
}

// CommandError is the payload of command-error.
type CommandError struct {
	ExecutionID   string           `json:"executionId"`
	CorrelationID string           `json:"correlationId"`
	Error         string           `json:"error"`
	Code          CommandErrorCode `json:"code"`
}

// HealthStatus is returned by GET /health and health.check.
type HealthStatus struct {
	Status          string `json:"status"`
	Executions      int    `json:"executions"`
	ClientConnected bool   `json:"clientConnected"`
}
