package websocket

import (
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/execution"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

var _ execution.Sink = (*Client)(nil)

// Output sends an output-chunk notification.
func (c *Client) Output(o execution.Output) {
	c.notify(ws.ActionOutputChunk, ws.OutputChunk{
		ExecutionID:   o.ExecutionID,
		CorrelationID: o.CorrelationID,
		Type:          ws.StreamType(o.Stream),
		Content:       o.Content,
		Timestamp:     o.Timestamp.UnixMilli(),
	})
}

// Complete sends a command-complete notification.
func (c *Client) Complete(done execution.Completion) {
	c.notify(ws.ActionCommandComplete, ws.CommandComplete{
		ExecutionID:   done.ExecutionID,
		CorrelationID: done.CorrelationID,
		ExitCode:      done.ExitCode,
		SessionID:     done.SessionID,
		Duration:      done.Duration.Milliseconds(),
	})
}

// Fail sends a command-error notification.
func (c *Client) Fail(f execution.Failure) {
	c.notify(ws.ActionCommandError, ws.CommandError{
		ExecutionID:   f.ExecutionID,
		CorrelationID: f.CorrelationID,
		Error:         f.Message,
		Code:          ws.CommandErrorCode(f.Code),
	})
}

func (c *Client) notify(action string, payload any) {
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		c.logger.Error("Failed to build notification", zap.String("action", action), zap.Error(err))
		return
	}
	if !c.sendMessage(msg) {
		c.logger.Debug("Notification dropped, client closed", zap.String("action", action))
	}
}
