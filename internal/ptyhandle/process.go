package ptyhandle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

const (
	readBufferSize = 32 * 1024
	eventBuffer    = 64
	// drainGrace bounds how long output is read after the process exits.
	// Orphaned children can keep the slave side open forever.
	drainGrace = 2 * time.Second
)

// device is the platform PTY master.
type device interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

// NativeSpawner spawns real processes.
type NativeSpawner struct {
	clock  clock.Clock
	logger *logger.Logger
}

// NewNativeSpawner creates a spawner. A nil clock uses wall time.
func NewNativeSpawner(clk clock.Clock, log *logger.Logger) *NativeSpawner {
	if clk == nil {
		clk = clock.Real()
	}
	return &NativeSpawner{
		clock:  clk,
		logger: log.WithFields(zap.String("component", "pty_spawner")),
	}
}

// Spawn starts spec.Argv in a PTY. The returned handle is already running.
func (s *NativeSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty argv")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	dev, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	p := &process{
		cmd:      cmd,
		dev:      dev,
		clock:    s.clock,
		events:   make(chan Event, eventBuffer),
		readDone: make(chan struct{}),
		logger:   s.logger.WithFields(zap.Int("pid", cmd.Process.Pid)),
	}
	if spec.Timeout > 0 {
		p.timeout = s.clock.AfterFunc(spec.Timeout, p.expire)
	}

	p.logger.Debug("pty process started",
		zap.Strings("argv", spec.Argv),
		zap.String("dir", spec.Dir),
		zap.Int("cols", cols),
		zap.Int("rows", rows),
		zap.Duration("timeout", spec.Timeout))

	go p.readOutput()
	go p.wait()
	return p, nil
}

type process struct {
	cmd      *exec.Cmd
	dev      device
	clock    clock.Clock
	events   chan Event
	readDone chan struct{}
	timeout  *clock.Timer
	logger   *logger.Logger

	// reaped is set as soon as the process has been waited for, before
	// output is drained. Kill and the timeout are no-ops from then on.
	mu       sync.Mutex
	reaped   bool
	killed   bool
	timedOut bool
}

func (p *process) Events() <-chan Event { return p.events }

func (p *process) Pid() int { return p.cmd.Process.Pid }

func (p *process) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reaped || p.killed {
		return nil
	}
	_, err := p.dev.Write(b)
	return err
}

func (p *process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 0xFFFF || rows > 0xFFFF {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reaped || p.killed {
		return nil
	}
	return p.dev.Resize(uint16(cols), uint16(rows))
}

func (p *process) Kill() error {
	return p.terminate(false)
}

// expire runs when the timeout fires. After a natural exit it does nothing.
func (p *process) expire() {
	if err := p.terminate(true); err != nil {
		p.logger.Warn("failed to kill timed out process", zap.Error(err))
	}
}

func (p *process) terminate(timedOut bool) error {
	p.mu.Lock()
	if p.reaped || p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.timedOut = timedOut
	p.mu.Unlock()

	if p.timeout != nil && !timedOut {
		p.timeout.Stop()
	}
	if timedOut {
		p.logger.Info("pty process timed out")
	}
	return killProcessTree(p.cmd.Process)
}

func (p *process) readOutput() {
	defer close(p.readDone)

	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		n, err := p.dev.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := len(data) - incompleteUTF8Tail(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				p.events <- Event{Kind: EventData, Data: data[:cut]}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				p.events <- Event{Kind: EventData, Data: carry}
			}
			return
		}
	}
}

func (p *process) wait() {
	exitCode, signalName, waitErr := waitPtyProcess(p.cmd)

	// The pid may be reused from here on, so nothing may signal it.
	p.mu.Lock()
	p.reaped = true
	killed, timedOut := p.killed, p.timedOut
	p.mu.Unlock()
	if p.timeout != nil {
		p.timeout.Stop()
	}

	// Let the reader drain what the process wrote before exiting.
	drain := p.clock.AfterFunc(drainGrace, func() { _ = p.dev.Close() })
	<-p.readDone
	drain.Stop()
	_ = p.dev.Close()

	var err error
	switch {
	case timedOut:
		err = ErrTimeout
	case killed:
		err = ErrKilled
	case signalName != "":
		err = fmt.Errorf("%w: %s", ErrSignaled, signalName)
	case waitErr != nil && !isExitError(waitErr):
		err = waitErr
	}

	p.logger.Debug("pty process exited",
		zap.Int("exit_code", exitCode),
		zap.String("signal", signalName),
		zap.Error(err))

	p.events <- Event{Kind: EventExit, ExitCode: exitCode, Err: err}
	close(p.events)
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
