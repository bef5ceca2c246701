package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TayTech/claude-remote/internal/client/wsclient"
	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

type fakeTransport struct {
	done chan struct{}
	once sync.Once
}

func newFakeTransport() *fakeTransport { return &fakeTransport{done: make(chan struct{})} }

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// scriptedDialer fails the first len(failures) dials with those errors
// (nil entries succeed) and succeeds afterwards unless alwaysFail is set.
type scriptedDialer struct {
	mu         sync.Mutex
	failures   []error
	alwaysFail bool
	gate       chan struct{}
	calls      int
	transports []*fakeTransport
}

func (d *scriptedDialer) dial(ctx context.Context, target wsclient.Target) (Transport, error) {
	d.mu.Lock()
	d.calls++
	n, gate := d.calls, d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if d.alwaysFail {
		return nil, errors.New("connection refused")
	}
	if n <= len(d.failures) && d.failures[n-1] != nil {
		return nil, d.failures[n-1]
	}
	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

var target = wsclient.Target{Host: "10.0.0.2", Port: 8787, Path: "/ws"}

func newTestManager(t *testing.T, d *scriptedDialer) (*Manager, *clock.FakeClock, <-chan State) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(d.dial, DefaultBackoff(), clk, log)
	states, unsubscribe := m.Subscribe()
	t.Cleanup(func() {
		unsubscribe()
		m.Close()
	})
	require.Equal(t, State{Phase: Disconnected}, <-states)
	return m, clk, states
}

func next(t *testing.T, states <-chan State) State {
	t.Helper()
	select {
	case s := <-states:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return State{}
	}
}

func assertQuiet(t *testing.T, states <-chan State) {
	t.Helper()
	select {
	case s := <-states:
		t.Fatalf("unexpected state %s", s)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestBackoffDelays(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i+1), "attempt %d", i+1)
	}

	prev := time.Duration(0)
	for n := 1; n <= 100; n++ {
		d := b.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, b.Delay(0))
}

func TestReconnectSequence(t *testing.T) {
	boom := errors.New("connection refused")
	d := &scriptedDialer{failures: []error{boom, boom}}
	m, clk, states := newTestManager(t, d)

	m.Connect(target)
	assert.Equal(t, State{Phase: Connecting}, next(t, states))
	assert.Equal(t, State{Phase: Reconnecting, Attempt: 1}, next(t, states))

	clk.WaitForTimers(1)
	clk.Advance(999 * time.Millisecond)
	assertQuiet(t, states)
	clk.Advance(time.Millisecond)
	assert.Equal(t, State{Phase: Connecting}, next(t, states))
	assert.Equal(t, State{Phase: Reconnecting, Attempt: 2}, next(t, states))

	clk.WaitForTimers(1)
	clk.Advance(1999 * time.Millisecond)
	assertQuiet(t, states)
	clk.Advance(time.Millisecond)
	assert.Equal(t, State{Phase: Connecting}, next(t, states))
	assert.Equal(t, State{Phase: Connected}, next(t, states))

	assert.Equal(t, 3, d.callCount())
	assert.NotNil(t, m.Transport())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	d := &scriptedDialer{alwaysFail: true}
	m, clk, states := newTestManager(t, d)
	b := DefaultBackoff()

	m.Connect(target)
	require.Equal(t, Connecting, next(t, states).Phase)
	for n := 1; n <= b.MaxAttempts; n++ {
		s := next(t, states)
		require.Equal(t, State{Phase: Reconnecting, Attempt: n}, s)
		clk.WaitForTimers(1)
		clk.Advance(b.Delay(n))
		require.Equal(t, Connecting, next(t, states).Phase)
	}

	final := next(t, states)
	assert.Equal(t, Failed, final.Phase)
	assert.Equal(t, "connection refused", final.Message)
	assert.Equal(t, "Error{connection refused}", final.String())
	assert.Equal(t, b.MaxAttempts+1, d.callCount())
	assert.Equal(t, 0, clk.Pending())

	// An explicit connect starts over.
	d.alwaysFail = false
	m.Connect(target)
	assert.Equal(t, State{Phase: Connecting}, next(t, states))
	assert.Equal(t, State{Phase: Connected}, next(t, states))
}

func TestDropTriggersReconnect(t *testing.T) {
	d := &scriptedDialer{}
	m, clk, states := newTestManager(t, d)

	m.Connect(target)
	next(t, states)
	require.Equal(t, Connected, next(t, states).Phase)

	m.Connect(target)
	assertQuiet(t, states)

	require.NoError(t, d.last().Close())
	assert.Equal(t, State{Phase: Reconnecting, Attempt: 1}, next(t, states))
	assert.Nil(t, m.Transport())

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	assert.Equal(t, Connecting, next(t, states).Phase)
	assert.Equal(t, Connected, next(t, states).Phase)

	// The attempt counter was reset by the successful connect.
	require.NoError(t, d.last().Close())
	assert.Equal(t, State{Phase: Reconnecting, Attempt: 1}, next(t, states))
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &scriptedDialer{alwaysFail: true}
	m, clk, states := newTestManager(t, d)

	m.Connect(target)
	next(t, states)
	require.Equal(t, Reconnecting, next(t, states).Phase)
	clk.WaitForTimers(1)

	m.Disconnect()
	assert.Equal(t, State{Phase: Disconnected}, next(t, states))
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	assertQuiet(t, states)
	assert.Equal(t, 1, d.callCount())
}

func TestStaleDialIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	d := &scriptedDialer{gate: gate}
	m, _, states := newTestManager(t, d)

	m.Connect(target)
	next(t, states)
	require.Eventually(t, func() bool { return d.callCount() == 1 }, time.Second, time.Millisecond)

	m.Disconnect()
	assert.Equal(t, Disconnected, next(t, states).Phase)
	close(gate)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.transports) == 1
	}, time.Second, time.Millisecond)
	assert.Eventually(t, d.last().isClosed, time.Second, time.Millisecond)
	assertQuiet(t, states)
	assert.Equal(t, Disconnected, m.State().Phase)
}

func TestConnectToNewTargetTearsDown(t *testing.T) {
	d := &scriptedDialer{}
	m, _, states := newTestManager(t, d)

	m.Connect(target)
	next(t, states)
	require.Equal(t, Connected, next(t, states).Phase)
	old := d.last()

	other := target
	other.Host = "10.0.0.3"
	m.Connect(other)
	assert.Equal(t, State{Phase: Disconnected}, next(t, states))
	assert.Equal(t, State{Phase: Connecting}, next(t, states))
	assert.Equal(t, State{Phase: Connected}, next(t, states))
	assert.Eventually(t, old.isClosed, time.Second, time.Millisecond)
	assert.NotSame(t, old, d.last())
}
