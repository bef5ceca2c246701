package connection

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/client/wsclient"
	"github.com/TayTech/claude-remote/internal/common/clock"
	"github.com/TayTech/claude-remote/internal/common/logger"
)

var errClosedByPeer = errors.New("connection closed")

// Transport is a live connection as seen by the manager.
type Transport interface {
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a transport to target.
type DialFunc func(ctx context.Context, target wsclient.Target) (Transport, error)

// WSDialer dials with wsclient.
func WSDialer(log *logger.Logger) DialFunc {
	return func(ctx context.Context, target wsclient.Target) (Transport, error) {
		conn, err := wsclient.Dial(ctx, target, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Manager owns the single connection of the client. Every scheduled
// reconnect and in-flight dial carries the generation it was started in
// and does nothing once Connect or Disconnect has moved past it.
type Manager struct {
	dial    DialFunc
	backoff Backoff
	clock   clock.Clock
	logger  *logger.Logger

	mu         sync.Mutex
	state      State
	target     wsclient.Target
	hasTarget  bool
	generation uint64
	attempt    int
	timer      *clock.Timer
	cancelDial context.CancelFunc
	transport  Transport
	observers  map[chan State]struct{}
}

// NewManager creates a manager in the Disconnected state. clk may be nil.
func NewManager(dial DialFunc, backoff Backoff, clk clock.Clock, log *logger.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		dial:      dial,
		backoff:   backoff,
		clock:     clk,
		logger:    log.WithFields(zap.String("component", "connection")),
		state:     State{Phase: Disconnected},
		observers: make(map[chan State]struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transport returns the live transport, or nil when not Connected.
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Subscribe returns a channel of state changes, starting with the current
// state. Slow observers miss intermediate states rather than blocking the
// manager. Call the returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 64)
	m.mu.Lock()
	m.observers[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Connect starts connecting to target, restarting from attempt 0. A
// different target tears down the current connection first. Connecting
// again to the target already connected or being dialed does nothing.
func (m *Manager) Connect(target wsclient.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	same := m.hasTarget && m.target == target
	if same && (m.state.Phase == Connected || m.state.Phase == Connecting) {
		return
	}
	if !same && m.hasTarget {
		m.teardownLocked()
		m.setStateLocked(State{Phase: Disconnected})
	} else {
		m.teardownLocked()
	}

	m.target = target
	m.hasTarget = true
	m.attempt = 0
	m.startDialLocked()
}

// Disconnect tears down the connection and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.hasTarget = false
	m.attempt = 0
	if m.state.Phase != Disconnected {
		m.setStateLocked(State{Phase: Disconnected})
	}
}

// Close disconnects and ends every subscription.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.observers {
		delete(m.observers, ch)
		close(ch)
	}
}

// teardownLocked invalidates everything started by the current generation.
func (m *Manager) teardownLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.transport != nil {
		t := m.transport
		m.transport = nil
		go t.Close()
	}
}

func (m *Manager) startDialLocked() {
	gen := m.generation
	target := m.target
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.setStateLocked(State{Phase: Connecting})
	go m.dialOnce(ctx, gen, target)
}

func (m *Manager) dialOnce(ctx context.Context, gen uint64, target wsclient.Target) {
	t, err := m.dial(ctx, target)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		if t != nil {
			go t.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.logger.Debug("dial failed", zap.String("url", target.URL()), zap.Error(err))
		m.scheduleReconnectLocked(err)
		return
	}

	m.transport = t
	m.attempt = 0
	m.setStateLocked(State{Phase: Connected})
	m.logger.Info("connected", zap.String("url", target.URL()))
	go m.watch(gen, t)
}

func (m *Manager) watch(gen uint64, t Transport) {
	<-t.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.transport != t {
		return
	}
	m.transport = nil
	m.logger.Info("connection lost")
	m.scheduleReconnectLocked(errClosedByPeer)
}

// scheduleReconnectLocked arms the single reconnect timer, or moves to
// Failed once the attempts are used up.
func (m *Manager) scheduleReconnectLocked(cause error) {
	m.attempt++
	if m.attempt > m.backoff.MaxAttempts {
		m.setStateLocked(State{Phase: Failed, Message: cause.Error()})
		m.logger.Warn("giving up reconnecting", zap.Int("attempts", m.attempt-1), zap.Error(cause))
		return
	}

	delay := m.backoff.Delay(m.attempt)
	gen := m.generation
	m.setStateLocked(State{Phase: Reconnecting, Attempt: m.attempt})
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(delay, func() { m.fireReconnect(gen) })
	m.logger.Debug("reconnect scheduled", zap.Int("attempt", m.attempt), zap.Duration("delay", delay))
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.state.Phase != Reconnecting {
		return
	}
	m.timer = nil
	m.startDialLocked()
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	for ch := range m.observers {
		select {
		case ch <- s:
		default:
			m.logger.Debug("state observer lagging, state dropped", zap.Stringer("state", s))
		}
	}
}
