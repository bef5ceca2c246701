package execution

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/TayTech/claude-remote/internal/ptyhandle"
)

// Kind distinguishes one-shot commands from interactive sessions.
type Kind string

const (
	KindCommand     Kind = "command"
	KindInteractive Kind = "interactive"
)

// Context is the registry's record of one execution. Only the registry
// holds it; callers get Snapshot copies.
type Context struct {
	ExecutionID   string
	CorrelationID string
	Kind          Kind
	ProjectID     string
	ProjectPath   string
	// SessionID is the requested agent session. Nil starts a new one.
	SessionID *string
	Command   string
	StartTime time.Time

	// Guarded by Registry.mu.
	cancelled bool
	launched  bool

	sink Sink
	span trace.Span

	// emitMu serializes everything sent to sink for this execution.
	emitMu     sync.Mutex
	terminated bool

	// ioMu guards the handle and what arrives before it exists.
	ioMu         sync.Mutex
	handle       ptyhandle.Handle
	pendingInput [][]byte
	cols, rows   int
	resized      bool
	// agentSession is the session ID actually passed to the program.
	agentSession string
}

// Snapshot is a read-only copy of a Context.
type Snapshot struct {
	ExecutionID   string
	CorrelationID string
	Kind          Kind
	ProjectID     string
	ProjectPath   string
	SessionID     *string
	Command       string
	StartTime     time.Time
	Cancelled     bool
}

func (c *Context) snapshot() Snapshot {
	return Snapshot{
		ExecutionID:   c.ExecutionID,
		CorrelationID: c.CorrelationID,
		Kind:          c.Kind,
		ProjectID:     c.ProjectID,
		ProjectPath:   c.ProjectPath,
		SessionID:     c.SessionID,
		Command:       c.Command,
		StartTime:     c.StartTime,
		Cancelled:     c.cancelled,
	}
}

// emit runs fn under emitMu unless a terminal event was already sent.
// With terminal set, it marks the execution terminated. It reports
// whether fn ran.
func (c *Context) emit(terminal bool, fn func(Sink)) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.terminated {
		return false
	}
	if terminal {
		c.terminated = true
	}
	if c.sink != nil && fn != nil {
		fn(c.sink)
	}
	return true
}
