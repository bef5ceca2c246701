//go:build !windows

package ptyhandle

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if os.Getenv("CI") != "" {
		t.Skip("skipping PTY test in CI")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
}

// collect drains events until the exit event or deadline.
func collect(t *testing.T, h Handle) (string, Event) {
	t.Helper()
	var out strings.Builder
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			require.True(t, ok, "events closed before exit")
			if ev.Kind == EventExit {
				_, open := <-h.Events()
				assert.False(t, open, "events must close after exit")
				return out.String(), ev
			}
			out.Write(ev.Data)
		case <-deadline:
			t.Fatal("timed out waiting for exit")
		}
	}
}

func TestSpawnNaturalExit(t *testing.T) {
	skipWithoutShell(t)
	s := NewNativeSpawner(nil, newTestLogger(t))

	h, err := s.Spawn(context.Background(), Spec{
		Argv: []string{"/bin/sh", "-c", "printf hello; exit 3"},
		Env:  BuildEnv(""),
	})
	require.NoError(t, err)

	out, ev := collect(t, h)
	assert.Contains(t, out, "hello")
	assert.Equal(t, 3, ev.ExitCode)
	assert.NoError(t, ev.Err)

	assert.NoError(t, h.Write([]byte("late")), "write after exit is a no-op")
	assert.NoError(t, h.Resize(100, 40), "resize after exit is a no-op")
	assert.NoError(t, h.Kill())
}

func TestSpawnKill(t *testing.T) {
	skipWithoutShell(t)
	s := NewNativeSpawner(nil, newTestLogger(t))

	h, err := s.Spawn(context.Background(), Spec{Argv: []string{"/bin/sh", "-c", "sleep 30"}, Env: BuildEnv("")})
	require.NoError(t, err)

	require.NoError(t, h.Kill())
	require.NoError(t, h.Kill())
	assert.NoError(t, h.Write([]byte("ignored")))
	assert.NoError(t, h.Resize(100, 40))

	_, ev := collect(t, h)
	assert.ErrorIs(t, ev.Err, ErrKilled)
}

func TestSpawnTimeout(t *testing.T) {
	skipWithoutShell(t)
	clk := clock.NewFake(time.Now())
	s := NewNativeSpawner(clk, newTestLogger(t))

	h, err := s.Spawn(context.Background(), Spec{
		Argv:    []string{"/bin/sh", "-c", "sleep 30"},
		Env:     BuildEnv(""),
		Timeout: 300 * time.Second,
	})
	require.NoError(t, err)

	clk.WaitForTimers(1)
	clk.Advance(299 * time.Second)
	select {
	case ev := <-h.Events():
		require.NotEqual(t, EventExit, ev.Kind, "exited before timeout")
	default:
	}
	clk.Advance(time.Second)

	_, ev := collect(t, h)
	assert.ErrorIs(t, ev.Err, ErrTimeout)
}

func TestSpawnEcho(t *testing.T) {
	skipWithoutShell(t)
	s := NewNativeSpawner(nil, newTestLogger(t))

	h, err := s.Spawn(context.Background(), Spec{Argv: []string{"/bin/cat"}, Env: BuildEnv(""), Cols: 120, Rows: 40})
	require.NoError(t, err)
	require.NoError(t, h.Resize(100, 30))
	require.NoError(t, h.Write([]byte("ping\n")))
	require.NoError(t, h.Write([]byte{4})) // EOF

	out, ev := collect(t, h)
	assert.Contains(t, out, "ping")
	assert.Equal(t, 0, ev.ExitCode)
}

func TestSpawnRejectsEmptyArgv(t *testing.T) {
	s := NewNativeSpawner(nil, newTestLogger(t))
	_, err := s.Spawn(context.Background(), Spec{})
	assert.Error(t, err)
}

func TestTimeoutAfterNaturalExitIsNoop(t *testing.T) {
	skipWithoutShell(t)
	clk := clock.NewFake(time.Now())
	s := NewNativeSpawner(clk, newTestLogger(t))

	// The background sleep keeps the slave open, so draining outlives the shell.
	h, err := s.Spawn(context.Background(), Spec{
		Argv:    []string{"/bin/sh", "-c", `trap "" HUP; sleep 5 & exit 0`},
		Env:     BuildEnv(""),
		Timeout: time.Second,
	})
	require.NoError(t, err)

	p := h.(*process)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.reaped
	}, 5*time.Second, 10*time.Millisecond)

	clk.Advance(time.Second)
	clk.WaitForTimers(1)
	clk.Advance(drainGrace)

	_, ev := collect(t, h)
	assert.Equal(t, 0, ev.ExitCode)
	assert.NoError(t, ev.Err)
}

func TestSignalledExitReportsSignal(t *testing.T) {
	skipWithoutShell(t)
	s := NewNativeSpawner(nil, newTestLogger(t))

	h, err := s.Spawn(context.Background(), Spec{Argv: []string{"/bin/sh", "-c", "kill -SEGV $$"}, Env: BuildEnv("")})
	require.NoError(t, err)

	_, ev := collect(t, h)
	assert.Equal(t, 139, ev.ExitCode)
	assert.ErrorIs(t, ev.Err, ErrSignaled)
	assert.NotErrorIs(t, ev.Err, ErrKilled)
}
