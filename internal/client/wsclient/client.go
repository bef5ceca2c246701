// Package wsclient is the client side of the transport: one dialed
// connection with request/response correlation and an ordered stream of
// server notifications.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/constants"
	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// ErrClosed is returned by requests on a connection that went away.
var ErrClosed = errors.New("connection closed")

// Target identifies the server to dial.
type Target struct {
	Host  string
	Port  int
	Path  string
	Token string
}

// URL returns the websocket URL of t, without the token.
func (t Target) URL() string {
	path := t.Path
	if path == "" {
		path = "/ws"
	}
	u := url.URL{Scheme: "ws", Host: t.Host + ":" + strconv.Itoa(t.Port), Path: path}
	return u.String()
}

// RequestError is an error envelope returned by the server.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
}

// Conn is one live connection. It is not reused after it closes.
type Conn struct {
	conn          *websocket.Conn
	logger        *logger.Logger
	pending       map[string]chan *ws.Message
	pendingMu     sync.Mutex
	writeMu       sync.Mutex
	notifications chan *ws.Message
	closing       chan struct{}
	closeOnce     sync.Once
	done          chan struct{}
	err           error
}

// Dial connects to target. A handshake rejection, such as a bad token,
// is returned as an error that mentions the HTTP status.
func Dial(ctx context.Context, target Target, log *logger.Logger) (*Conn, error) {
	header := http.Header{}
	if target.Token != "" {
		header.Set("Authorization", "Bearer "+target.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: constants.SpawnTimeout}
	conn, resp, err := dialer.DialContext(ctx, target.URL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s", target.URL(), resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", target.URL(), err)
	}
	return newConn(conn, log), nil
}

func newConn(conn *websocket.Conn, log *logger.Logger) *Conn {
	c := &Conn{
		conn:          conn,
		logger:        log.WithFields(zap.String("component", "wsclient")),
		pending:       make(map[string]chan *ws.Message),
		notifications: make(chan *ws.Message, 256),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	conn.SetReadLimit(constants.WSMaxMessageSize)
	go c.readLoop()
	return c
}

// Notifications delivers server notifications in arrival order. It is
// closed when the connection ends.
func (c *Conn) Notifications() <-chan *ws.Message { return c.notifications }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended. It is only valid after Done.
func (c *Conn) Err() error { return c.err }

// Close closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Request sends a request and waits for its response.
func (c *Conn) Request(ctx context.Context, action string, payload any) (*ws.Message, error) {
	id := uuid.New().String()
	msg, err := ws.NewRequest(id, action, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan *ws.Message, 1)
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
	err = c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.logger.Debug("sent request", zap.String("action", action), zap.String("id", id))

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// RequestPayload sends a request and decodes the response payload into
// result. Error envelopes are returned as *RequestError.
func (c *Conn) RequestPayload(ctx context.Context, action string, payload, result any) error {
	resp, err := c.Request(ctx, action, payload)
	if err != nil {
		return err
	}
	if resp.Type == ws.MessageTypeError {
		var ep ws.ErrorPayload
		if json.Unmarshal(resp.Payload, &ep) == nil {
			return &RequestError{Code: ep.Code, Message: ep.Message}
		}
		return &RequestError{Code: ws.ErrorCodeInternalError, Message: string(resp.Payload)}
	}
	if result != nil && len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Conn) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Conn) readLoop() {
	defer c.handleDisconnect()
	for {
		var msg ws.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closing:
				c.err = ErrClosed
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("read error", zap.Error(err))
				}
				c.err = err
			}
			return
		}
		if !c.handleMessage(&msg) {
			c.err = ErrClosed
			return
		}
	}
}

func (c *Conn) handleMessage(msg *ws.Message) bool {
	switch msg.Type {
	case ws.MessageTypeResponse, ws.MessageTypeError:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		} else if msg.Type == ws.MessageTypeError {
			c.logger.Warn("unsolicited error from server", zap.ByteString("payload", msg.Payload))
		}
		return true
	case ws.MessageTypeNotification:
		select {
		case c.notifications <- msg:
			return true
		case <-c.closing:
			return false
		}
	}
	return true
}

// handleDisconnect fails every pending request and ends the notification stream.
func (c *Conn) handleDisconnect() {
	c.conn.Close()
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
	c.pendingMu.Unlock()
	close(c.notifications)
}
