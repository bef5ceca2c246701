package wsclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// fakeServer answers health.check, emits three notifications before
// answering start-pty, never answers pty-input and hangs up on cancel-command.
func fakeServer(t *testing.T, token string) Target {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg ws.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Action {
			case ws.ActionHealthCheck:
				resp, _ := ws.NewResponse(msg.ID, msg.Action, ws.HealthStatus{Status: "ok"})
				_ = conn.WriteJSON(resp)
			case ws.ActionStartPTY:
				for i := 0; i < 3; i++ {
					n, _ := ws.NewNotification(ws.ActionOutputChunk, ws.OutputChunk{ExecutionID: "e1", Content: strconv.Itoa(i)})
					_ = conn.WriteJSON(n)
				}
				resp, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "bad", nil)
				_ = conn.WriteJSON(resp)
			case ws.ActionCancelCommand:
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Target{Host: host, Port: p, Path: "/ws", Token: token}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestRequestResponse(t *testing.T) {
	target := fakeServer(t, "tok")
	conn, err := Dial(context.Background(), target, testLogger(t))
	require.NoError(t, err)
	defer conn.Close()

	var health ws.HealthStatus
	require.NoError(t, conn.RequestPayload(context.Background(), ws.ActionHealthCheck, nil, &health))
	assert.Equal(t, "ok", health.Status)

	err = conn.RequestPayload(context.Background(), ws.ActionStartPTY, ws.StartPTYRequest{}, nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, ws.ErrorCodeBadRequest, reqErr.Code)

	for i := 0; i < 3; i++ {
		select {
		case n := <-conn.Notifications():
			var chunk ws.OutputChunk
			require.NoError(t, n.ParsePayload(&chunk))
			assert.Equal(t, strconv.Itoa(i), chunk.Content)
		case <-time.After(2 * time.Second):
			t.Fatal("missing notification")
		}
	}
}

func TestRequestTimeoutAndDisconnect(t *testing.T) {
	target := fakeServer(t, "")
	conn, err := Dial(context.Background(), target, testLogger(t))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Request(ctx, ws.ActionPTYInput, ws.PTYInputRequest{ExecutionID: "e1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = conn.Request(context.Background(), ws.ActionCancelCommand, ws.CancelCommandRequest{ExecutionID: "e1"})
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not marked done")
	}
	_, open := <-conn.Notifications()
	assert.False(t, open)

	_, err = conn.Request(context.Background(), ws.ActionHealthCheck, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialRejected(t *testing.T) {
	target := fakeServer(t, "tok")
	target.Token = "wrong"
	_, err := Dial(context.Background(), target, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTargetURL(t *testing.T) {
	assert.Equal(t, "ws://example.com:8787/ws", Target{Host: "example.com", Port: 8787}.URL())
	assert.Equal(t, "ws://10.0.0.2:9000/remote", Target{Host: "10.0.0.2", Port: 9000, Path: "/remote"}.URL())
}
