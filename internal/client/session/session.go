// Package session is the client façade over one interactive or one-shot
// execution at a time. It tracks the current execution ID and filters
// everything the server sends down to that execution.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// ErrNoSession is returned by input and resize without a current execution.
var ErrNoSession = errors.New("no active session")

// Requester sends a request and decodes its response.
type Requester interface {
	RequestPayload(ctx context.Context, action string, payload, result any) error
}

// AckError is a request the server answered with success set to false.
type AckError struct {
	Code    string
	Message string
}

func (e *AckError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Event is one notification for the current execution. Exactly one field is set.
type Event struct {
	Output   *ws.OutputChunk
	Complete *ws.CommandComplete
	Error    *ws.CommandError
}

// ExecutionID returns the execution the event belongs to.
func (e Event) ExecutionID() string {
	switch {
	case e.Output != nil:
		return e.Output.ExecutionID
	case e.Complete != nil:
		return e.Complete.ExecutionID
	case e.Error != nil:
		return e.Error.ExecutionID
	}
	return ""
}

// Terminal reports whether e ends its execution.
func (e Event) Terminal() bool { return e.Complete != nil || e.Error != nil }

// Session is the façade. Events for any execution other than the current
// one are dropped.
type Session struct {
	conn    Requester
	timeout time.Duration
	logger  *logger.Logger
	events  chan Event

	// startMu serializes starts. dispatchMu serializes delivery so that
	// held notifications are replayed before newer ones.
	startMu    sync.Mutex
	dispatchMu sync.Mutex

	mu       sync.Mutex
	current  string
	previous string
	starting bool
	held     []Event
}

// maxHeld bounds the notifications held while a start is in flight. The
// oldest are dropped first.
const maxHeld = 256

// New creates a façade over conn. Each request is bounded by timeout.
func New(conn Requester, timeout time.Duration, log *logger.Logger) *Session {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Session{
		conn:    conn,
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "session")),
		events:  make(chan Event, 256),
	}
}

// Events delivers the current execution's notifications in order.
func (s *Session) Events() <-chan Event { return s.events }

// Current returns the current execution ID, or "" when there is none.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// StartInteractive starts an interactive session and makes it current.
func (s *Session) StartInteractive(ctx context.Context, projectID string, sessionID *string, cols, rows int) (string, error) {
	return s.start(ctx, ws.ActionStartPTY, ws.StartPTYRequest{
		ProjectID: projectID,
		SessionID: sessionID,
		Cols:      cols,
		Rows:      rows,
	})
}

// RunCommand starts a one-shot command and makes it current. An empty
// correlationID gets a generated one.
func (s *Session) RunCommand(ctx context.Context, projectID string, sessionID *string, command, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return s.start(ctx, ws.ActionStartCommand, ws.StartCommandRequest{
		ProjectID:     projectID,
		SessionID:     sessionID,
		Command:       command,
		CorrelationID: correlationID,
	})
}

func (s *Session) start(ctx context.Context, action string, req any) (string, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	// A new start supersedes the current execution.
	s.mu.Lock()
	s.current = ""
	s.starting = true
	s.held = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var ack ws.StartAck
	err := s.conn.RequestPayload(ctx, action, req, &ack)
	if err == nil && !ack.Success {
		err = &AckError{Code: ack.Code, Message: ack.Error}
	}
	if err != nil {
		s.adopt("")
		return "", err
	}

	s.logger.Debug("execution started", zap.String("execution_id", ack.ExecutionID), zap.String("action", action))
	s.adopt(ack.ExecutionID)
	return ack.ExecutionID, nil
}

// adopt makes id current and replays what arrived for it during the start.
func (s *Session) adopt(id string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.current = id
	s.starting = false
	held := s.held
	s.held = nil
	if id != "" {
		s.previous = id
	}
	s.mu.Unlock()

	for _, ev := range held {
		if id != "" && ev.ExecutionID() == id {
			s.deliver(ev)
		}
	}
}

// SendInput forwards terminal input to the current execution.
func (s *Session) SendInput(ctx context.Context, data string) error {
	id := s.Current()
	if id == "" {
		return ErrNoSession
	}
	return s.ack(ctx, ws.ActionPTYInput, ws.PTYInputRequest{ExecutionID: id, Data: data})
}

// Resize changes the terminal size of the current execution.
func (s *Session) Resize(ctx context.Context, cols, rows int) error {
	id := s.Current()
	if id == "" {
		return ErrNoSession
	}
	return s.ack(ctx, ws.ActionPTYResize, ws.PTYResizeRequest{ExecutionID: id, Cols: cols, Rows: rows})
}

// Cancel asks the server to cancel the current execution. Its
// command-error still arrives on Events.
func (s *Session) Cancel(ctx context.Context) error {
	id := s.Current()
	if id == "" {
		return nil
	}
	return s.ack(ctx, ws.ActionCancelCommand, ws.CancelCommandRequest{ExecutionID: id})
}

func (s *Session) ack(ctx context.Context, action string, req any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var res ws.Ack
	if err := s.conn.RequestPayload(ctx, action, req, &res); err != nil {
		return err
	}
	if !res.Success {
		return &AckError{Code: res.Code, Message: res.Error}
	}
	return nil
}

// Run dispatches notifications until the channel closes or ctx ends.
func (s *Session) Run(ctx context.Context, notifications <-chan *ws.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-notifications:
			if !ok {
				return
			}
			s.Dispatch(msg)
		}
	}
}

// Dispatch routes one server notification.
func (s *Session) Dispatch(msg *ws.Message) {
	ev, err := decode(msg)
	if err != nil {
		s.logger.Warn("undecodable notification", zap.String("action", msg.Action), zap.Error(err))
		return
	}
	if ev == nil {
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	id := ev.ExecutionID()
	if id != s.current {
		// The execution being started is never the one it replaces.
		if s.starting && id != s.previous {
			s.hold(*ev)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.deliver(*ev)
}

// hold must be called with mu held.
func (s *Session) hold(ev Event) {
	if len(s.held) >= maxHeld {
		n := copy(s.held, s.held[1:])
		s.held = s.held[:n]
	}
	s.held = append(s.held, ev)
}

// deliver must be called with dispatchMu held.
func (s *Session) deliver(ev Event) {
	if ev.Terminal() {
		s.mu.Lock()
		if s.current == ev.ExecutionID() {
			s.current = ""
		}
		s.mu.Unlock()
	}
	s.events <- ev
}

func decode(msg *ws.Message) (*Event, error) {
	switch msg.Action {
	case ws.ActionOutputChunk:
		var p ws.OutputChunk
		if err := msg.ParsePayload(&p); err != nil {
			return nil, err
		}
		return &Event{Output: &p}, nil
	case ws.ActionCommandComplete:
		var p ws.CommandComplete
		if err := msg.ParsePayload(&p); err != nil {
			return nil, err
		}
		return &Event{Complete: &p}, nil
	case ws.ActionCommandError:
		var p ws.CommandError
		if err := msg.ParsePayload(&p); err != nil {
			return nil, err
		}
		return &Event{Error: &p}, nil
	}
	return nil, nil
}
