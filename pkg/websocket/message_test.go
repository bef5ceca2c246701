package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommandRequestNullSession(t *testing.T) {
	raw := `{"id":"r1","type":"request","action":"start-command","payload":{"projectId":"proj1","sessionId":null,"command":"/status","correlationId":"corr-1"}}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	var req StartCommandRequest
	require.NoError(t, msg.ParsePayload(&req))
	assert.Equal(t, "proj1", req.ProjectID)
	assert.Nil(t, req.SessionID)
	assert.Equal(t, "/status", req.Command)
	assert.Equal(t, "corr-1", req.CorrelationID)
}

func TestNotificationHasNoID(t *testing.T) {
	msg, err := NewNotification(ActionOutputChunk, OutputChunk{ExecutionID: "e1", Type: StreamStdout, Content: "hi"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
	assert.Contains(t, string(data), `"type":"notification"`)
	assert.Contains(t, string(data), `"executionId":"e1"`)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionHealthCheck, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, HealthStatus{Status: "ok"})
	})
	assert.True(t, d.HasHandler(ActionHealthCheck))

	resp, err := d.Dispatch(context.Background(), &Message{ID: "r1", Action: "nope"})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)

	resp, err = d.Dispatch(context.Background(), &Message{ID: "r2", Action: ActionHealthCheck})
	require.NoError(t, err)
	assert.Equal(t, "r2", resp.ID)
	assert.Equal(t, MessageTypeResponse, resp.Type)
}
