package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/constants"
	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// Client represents the single WebSocket connection of the remote client.
// It is also the execution.Sink of every execution it starts.
type Client struct {
	ID     string
	conn   *gorillaws.Conn
	hub    *Hub
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logger.Logger
}

// NewClient wraps an upgraded connection. Call WritePump and ReadPump to serve it.
func NewClient(id string, conn *gorillaws.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// close stops the write pump. Pending and future sends are discarded.
func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
}

// ReadPump reads requests until the connection fails, then unregisters the
// client. Requests are handled on this goroutine, in arrival order.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.WSMaxMessageSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure, gorillaws.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Debug("unparseable frame", zap.Error(err))
			c.sendError("", "", ws.ErrorCodeBadRequest, "Invalid message format", nil)
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("request", zap.String("action", msg.Action), zap.String("id", msg.ID))

	// Start actions need the client itself as the output sink.
	if c.hub.executions != nil {
		switch msg.Action {
		case ws.ActionStartCommand:
			c.hub.executions.StartCommand(ctx, c, msg)
			return
		case ws.ActionStartPTY:
			c.hub.executions.StartPTY(ctx, c, msg)
			return
		}
	}

	response, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Warn("request failed", zap.String("action", msg.Action), zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}

	if response != nil {
		c.sendMessage(response)
	}
}

// sendMessage queues a message for the write pump. It blocks while the
// queue is full and reports false once the client is closed.
func (c *Client) sendMessage(msg *ws.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal outbound message", zap.Error(err))
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendError(id, action, code, message string, details map[string]any) {
	msg, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("build error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump writes queued messages, one frame each, in queue order. It
// sends a close frame once the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(constants.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(gorillaws.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(gorillaws.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.write(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "replaced or shutting down"))
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
	return c.conn.WriteMessage(kind, data)
}
