package execution

import "time"

// Stream tags an output chunk.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamSystem Stream = "system"
)

// Output is one chunk of process output.
type Output struct {
	ExecutionID   string
	CorrelationID string
	Stream        Stream
	Content       string
	Timestamp     time.Time
}

// Completion reports a process that exited on its own.
type Completion struct {
	ExecutionID   string
	CorrelationID string
	ExitCode      int
	SessionID     string
	Duration      time.Duration
}

// Failure reports an execution that ended abnormally.
type Failure struct {
	ExecutionID   string
	CorrelationID string
	Code          RuntimeCode
	Message       string
}

// Sink receives the outbound events of the executions a client started.
// For one execution, calls are serialized and nothing follows the single
// Complete or Fail call.
type Sink interface {
	Output(Output)
	Complete(Completion)
	Fail(Failure)
}
