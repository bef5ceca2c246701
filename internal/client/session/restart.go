package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// Feeder is the terminal surface output is written to.
type Feeder interface {
	Feed(data string)
}

// RestartConfig configures an AutoRestart.
type RestartConfig struct {
	ProjectID string
	// SessionID is resumed by the first start. Later starts resume the
	// session reported by the last completion.
	SessionID *string
	// Size returns the terminal size for new sessions.
	Size func() (cols, rows int)
	// RetryDelay separates failed starts, and restarts after repeated
	// errors. Defaults to one second.
	RetryDelay time.Duration
	Clock      clock.Clock
}

// maxQuickErrors is how many command-errors in a row, with no output in
// between, are restarted without waiting.
const maxQuickErrors = 3

// AutoRestart keeps an interactive session running: whenever the current
// one completes or fails, it starts a new one.
type AutoRestart struct {
	session *Session
	term    Feeder
	cfg     RestartConfig
	kick    chan struct{}
	logger  *logger.Logger

	sessionID *string
	failures  int
}

// NewAutoRestart creates the controller.
func NewAutoRestart(s *Session, term Feeder, cfg RestartConfig, log *logger.Logger) *AutoRestart {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Size == nil {
		cfg.Size = func() (int, int) { return 80, 24 }
	}
	return &AutoRestart{
		session:   s,
		term:      term,
		cfg:       cfg,
		kick:      make(chan struct{}, 1),
		logger:    log.WithFields(zap.String("component", "auto_restart")),
		sessionID: cfg.SessionID,
	}
}

// Restart requests a fresh session, for example after a reconnect.
func (a *AutoRestart) Restart() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Run starts the first session and keeps restarting until ctx ends.
func (a *AutoRestart) Run(ctx context.Context) error {
	if !a.start(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.kick:
			if !a.start(ctx) {
				return nil
			}
		case ev, ok := <-a.session.Events():
			if !ok {
				return nil
			}
			if !a.handle(ctx, ev) {
				return nil
			}
		}
	}
}

// handle reports false once ctx has ended.
func (a *AutoRestart) handle(ctx context.Context, ev Event) bool {
	switch {
	case ev.Output != nil:
		a.failures = 0
		a.term.Feed(ev.Output.Content)
		return true
	case ev.Complete != nil:
		a.failures = 0
		if ev.Complete.SessionID != "" {
			sid := ev.Complete.SessionID
			a.sessionID = &sid
		}
		a.logger.Info("session completed, restarting", zap.Int("exit_code", ev.Complete.ExitCode))
		return a.start(ctx)
	case ev.Error != nil:
		a.failures++
		a.term.Feed(errorLine(ev.Error.Error))
		if ev.Error.Code == ws.CommandErrorSessionNotFound {
			a.sessionID = nil
		}
		a.logger.Info("session failed, restarting",
			zap.String("code", string(ev.Error.Code)),
			zap.String("error", ev.Error.Error))
		if a.failures >= maxQuickErrors && !a.wait(ctx) {
			return false
		}
		return a.start(ctx)
	}
	return true
}

// start retries until a session is running. It reports false once ctx has ended.
func (a *AutoRestart) start(ctx context.Context) bool {
	reported := false
	for {
		cols, rows := a.cfg.Size()
		id, err := a.session.StartInteractive(ctx, a.cfg.ProjectID, a.sessionID, cols, rows)
		if err == nil {
			a.logger.Debug("session running", zap.String("execution_id", id))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		var ackErr *AckError
		if errors.As(err, &ackErr) && !reported {
			a.term.Feed(errorLine(ackErr.Message))
			reported = true
		}
		a.logger.Warn("failed to start session", zap.Error(err))
		if !a.wait(ctx) {
			return false
		}
	}
}

func (a *AutoRestart) wait(ctx context.Context) bool {
	fired := make(chan struct{})
	t := a.cfg.Clock.AfterFunc(a.cfg.RetryDelay, func() { close(fired) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-fired:
		return true
	}
}

func errorLine(msg string) string {
	return fmt.Sprintf("\r\n\x1b[1;31mError: %s\x1b[0m\r\n", msg)
}
