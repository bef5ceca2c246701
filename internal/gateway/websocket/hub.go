// Package websocket is the server side of the transport: it upgrades the
// remote client's connection and routes its requests to the execution
// registry.
package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// DisconnectFunc is called when the active client goes away. It returns
// the number of executions it killed.
type DisconnectFunc func() int

// Hub tracks the one active client. A new connection replaces the
// previous one, and losing the active client runs the disconnect hook.
type Hub struct {
	current *Client

	register   chan registration
	unregister chan *Client
	stopped    chan struct{}

	dispatcher   *ws.Dispatcher
	executions   *ExecutionHandlers
	onDisconnect DisconnectFunc

	mu     sync.RWMutex
	logger *logger.Logger
}

// registration is a pending Register call. ready is closed once the
// replaced client, if any, has been torn down.
type registration struct {
	client *Client
	ready  chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, onDisconnect DisconnectFunc, log *logger.Logger) *Hub {
	return &Hub{
		register:     make(chan registration),
		unregister:   make(chan *Client),
		stopped:      make(chan struct{}),
		dispatcher:   dispatcher,
		onDisconnect: onDisconnect,
		logger:       log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			old := h.current
			h.current = nil
			h.mu.Unlock()
			if old != nil {
				old.close()
				h.disconnected(old, "server shutdown")
			}
			return

		case reg := <-h.register:
			h.mu.Lock()
			old := h.current
			h.current = reg.client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("client_id", reg.client.ID))
			if old != nil {
				old.close()
				h.disconnected(old, "replaced by a newer connection")
			}
			close(reg.ready)

		case client := <-h.unregister:
			h.mu.Lock()
			active := h.current == client
			if active {
				h.current = nil
			}
			h.mu.Unlock()
			client.close()
			if active {
				h.disconnected(client, "connection closed")
			}
			h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
		}
	}
}

// disconnected runs the disconnect hook. The client is closed first, so a
// start request racing the hook either is killed by it or sees the client
// closed and cancels itself.
func (h *Hub) disconnected(client *Client, reason string) {
	if h.onDisconnect == nil {
		return
	}
	n := h.onDisconnect()
	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("reason", reason),
		zap.Int("executions_killed", n))
}

// Register makes client the active client. It returns once the previous
// client's executions have been killed, so none of the new client's
// requests can be caught by that cleanup. It returns false when the hub
// has stopped.
func (h *Hub) Register(client *Client) bool {
	reg := registration{client: client, ready: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.stopped:
		client.close()
		return false
	}
	<-reg.ready
	return true
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Connected reports whether a client is attached.
func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current != nil
}

// IsCurrent reports whether client is the active client.
func (h *Hub) IsCurrent(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current == client
}
