// Package ptyhandle spawns processes attached to a pseudo-terminal and
// exposes them as a Handle: write, resize, kill and a single stream of
// typed events ending in exactly one exit event.
//
// On Unix the PTY comes from creack/pty, on Windows from ConPTY.
package ptyhandle

import (
	"context"
	"errors"
	"os"
	"time"
)

var (
	// ErrTimeout is reported on the exit event when the spawn timeout expired.
	ErrTimeout = errors.New("command timeout exceeded")
	// ErrKilled is reported on the exit event when Kill ended the process.
	ErrKilled = errors.New("process killed")
	// ErrSignaled is reported when a signal the handle did not send
	// ended the process, such as a crash.
	ErrSignaled = errors.New("process terminated by signal")
)

// EventKind discriminates Event.
type EventKind int

const (
	EventData EventKind = iota
	EventExit
)

// Event is one item of a handle's output stream. Data events carry
// output bytes. The final event is always EventExit, after which the
// channel is closed.
type Event struct {
	Kind     EventKind
	Data     []byte
	ExitCode int
	// Err is nil for a natural exit, ErrTimeout or ErrKilled when the
	// process was ended by the handle, ErrSignaled when something else
	// killed it, or the wait error otherwise.
	Err error
}

// Handle is a live PTY process.
type Handle interface {
	// Write sends input to the process. A no-op once killed or exited.
	Write(p []byte) error
	// Resize changes the terminal size. A no-op once killed or exited.
	Resize(cols, rows int) error
	// Kill ends the process. Safe to call more than once.
	Kill() error
	// Events must be consumed by exactly one reader.
	Events() <-chan Event
	Pid() int
}

// Spec describes a process to spawn.
type Spec struct {
	Argv []string
	Dir  string
	Env  []string
	Cols int
	Rows int
	// Timeout is measured from spawn. Zero means no timeout.
	Timeout time.Duration
}

// Spawner starts PTY processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// BuildEnv returns the current environment plus terminal settings for a
// process running in dir.
func BuildEnv(dir string, extra ...string) []string {
	env := os.Environ()
	if dir != "" {
		env = append(env, "PWD="+dir)
	}
	env = append(env, "TERM=xterm-256color", "LANG=C.UTF-8", "LC_ALL=C.UTF-8")
	return append(env, extra...)
}
