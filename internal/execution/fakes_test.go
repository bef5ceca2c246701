package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/project"
	"github.com/TayTech/claude-remote/internal/ptyhandle"
)

type fakeHandle struct {
	pid    int
	spec   ptyhandle.Spec
	events chan ptyhandle.Event

	mu       sync.Mutex
	writes   []string
	sizes    [][2]int
	killed   bool
	exitOnce sync.Once
	// holdExit delays the exit event of Kill until closed.
	holdExit chan struct{}
}

func newFakeHandle(pid int, spec ptyhandle.Spec) *fakeHandle {
	return &fakeHandle{pid: pid, spec: spec, events: make(chan ptyhandle.Event, 64)}
}

func (h *fakeHandle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.killed {
		h.writes = append(h.writes, string(p))
	}
	return nil
}

func (h *fakeHandle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.killed {
		h.sizes = append(h.sizes, [2]int{cols, rows})
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	hold := h.holdExit
	h.mu.Unlock()
	go func() {
		if hold != nil {
			<-hold
		}
		h.exit(137, ptyhandle.ErrKilled)
	}()
	return nil
}

func (h *fakeHandle) Events() <-chan ptyhandle.Event { return h.events }
func (h *fakeHandle) Pid() int                        { return h.pid }

func (h *fakeHandle) emit(data string) {
	h.events <- ptyhandle.Event{Kind: ptyhandle.EventData, Data: []byte(data)}
}

func (h *fakeHandle) exit(code int, err error) {
	h.exitOnce.Do(func() {
		h.events <- ptyhandle.Event{Kind: ptyhandle.EventExit, ExitCode: code, Err: err}
		close(h.events)
	})
}

func (h *fakeHandle) isKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *fakeHandle) writtenInput() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.writes...)
}

type fakeSpawner struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	attempts int
	err      error
	// gate blocks Spawn until closed when set.
	gate    chan struct{}
	spawned chan *fakeHandle
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeHandle, 64)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec ptyhandle.Spec) (ptyhandle.Handle, error) {
	s.mu.Lock()
	s.attempts++
	gate, err := s.gate, s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	h := newFakeHandle(1000+len(s.handles), spec)
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	s.spawned <- h
	return h, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// waitEntered blocks until Spawn has been called n times.
func (s *fakeSpawner) waitEntered(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.attempts >= n
	}, 2*time.Second, 2*time.Millisecond)
}

func (s *fakeSpawner) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-s.spawned:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for spawn")
		return nil
	}
}

type fakeProjects struct {
	mu       sync.Mutex
	paths    map[string]string
	sessions map[string]bool
	recorded []string
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{
		paths:    map[string]string{"proj1": "/srv/proj1"},
		sessions: map[string]bool{},
	}
}

func (p *fakeProjects) Resolve(ctx context.Context, projectID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.paths[projectID]
	if !ok {
		return "", project.ErrNotFound
	}
	return path, nil
}

func (p *fakeProjects) HasSession(ctx context.Context, projectID, sessionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[projectID+"/"+sessionID], nil
}

func (p *fakeProjects) RecordSession(ctx context.Context, projectID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[projectID+"/"+sessionID] = true
	p.recorded = append(p.recorded, sessionID)
	return nil
}

type sinkEvent struct {
	kind       string
	output     Output
	completion Completion
	failure    Failure
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
	ch     chan sinkEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan sinkEvent, 256)}
}

func (s *recordingSink) record(ev sinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
}

func (s *recordingSink) Output(o Output)       { s.record(sinkEvent{kind: "output", output: o}) }
func (s *recordingSink) Complete(c Completion) { s.record(sinkEvent{kind: "complete", completion: c}) }
func (s *recordingSink) Fail(f Failure)        { s.record(sinkEvent{kind: "fail", failure: f}) }

func (s *recordingSink) all() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

// waitTerminal blocks until a complete or fail event arrives.
func (s *recordingSink) waitTerminal(t *testing.T) sinkEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev.kind != "output" {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
			return sinkEvent{}
		}
	}
}

func (s *recordingSink) count(kind string) int {
	n := 0
	for _, ev := range s.all() {
		if ev.kind == kind {
			n++
		}
	}
	return n
}

type testRegistry struct {
	*Registry
	spawner  *fakeSpawner
	projects *fakeProjects
	clock    *clock.FakeClock
}

func newTestRegistry(t *testing.T, mutate ...func(*Config)) *testRegistry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var seq int
	var seqMu sync.Mutex
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.NewID = func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return fmt.Sprintf("e%d", seq)
	}
	for _, m := range mutate {
		m(&cfg)
	}

	spawner := newFakeSpawner()
	projects := newFakeProjects()
	return &testRegistry{
		Registry: NewRegistry(spawner, projects, nil, log, cfg),
		spawner:  spawner,
		projects: projects,
		clock:    clk,
	}
}

func strPtr(s string) *string { return &s }
