package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/execution"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// Registry is the part of execution.Registry the gateway drives.
type Registry interface {
	StartCommand(ctx context.Context, req execution.CommandRequest, sink execution.Sink) (execution.Snapshot, error)
	StartInteractive(ctx context.Context, req execution.InteractiveRequest, sink execution.Sink) (execution.Snapshot, error)
	Launch(executionID string)
	Cancel(id string) bool
	ForwardInput(executionID string, data []byte) error
	Resize(executionID string, cols, rows int) error
	Count() int
	OnDisconnect() int
}

// ExecutionHandlers maps the command and PTY actions onto the registry.
type ExecutionHandlers struct {
	registry Registry
	logger   *logger.Logger
}

// NewExecutionHandlers creates the execution action handlers.
func NewExecutionHandlers(registry Registry, log *logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{
		registry: registry,
		logger:   log.WithFields(zap.String("component", "execution_handlers")),
	}
}

// RegisterHandlers registers the actions that do not need the client.
func (h *ExecutionHandlers) RegisterHandlers(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionCancelCommand, h.handleCancel)
	d.RegisterFunc(ws.ActionPTYInput, h.handleInput)
	d.RegisterFunc(ws.ActionPTYResize, h.handleResize)
}

// StartCommand handles start-command for client c.
func (h *ExecutionHandlers) StartCommand(ctx context.Context, c *Client, msg *ws.Message) {
	var req ws.StartCommandRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}

	snap, err := h.registry.StartCommand(ctx, execution.CommandRequest{
		ProjectID:     req.ProjectID,
		SessionID:     req.SessionID,
		Command:       req.Command,
		CorrelationID: req.CorrelationID,
	}, c)
	if err != nil {
		h.reject(c, msg, req.CorrelationID, err)
		return
	}
	h.ackAndLaunch(c, msg, snap)
}

// StartPTY handles start-pty for client c.
func (h *ExecutionHandlers) StartPTY(ctx context.Context, c *Client, msg *ws.Message) {
	var req ws.StartPTYRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}

	snap, err := h.registry.StartInteractive(ctx, execution.InteractiveRequest{
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		Cols:      req.Cols,
		Rows:      req.Rows,
	}, c)
	if err != nil {
		h.reject(c, msg, "", err)
		return
	}
	h.ackAndLaunch(c, msg, snap)
}

func (h *ExecutionHandlers) reject(c *Client, msg *ws.Message, correlationID string, err error) {
	code := execution.CodeOf(err)
	h.logger.Info("start rejected",
		zap.String("action", msg.Action),
		zap.String("code", string(code)),
		zap.Error(err))
	resp, buildErr := ws.NewResponse(msg.ID, msg.Action, ws.StartAck{
		Success:       false,
		CorrelationID: correlationID,
		Error:         err.Error(),
		Code:          string(code),
	})
	if buildErr != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, buildErr.Error(), nil)
		return
	}
	c.sendMessage(resp)
}

// ackAndLaunch queues the ack and only then lets the process start, so
// every output chunk is queued behind it on the same connection.
func (h *ExecutionHandlers) ackAndLaunch(c *Client, msg *ws.Message, snap execution.Snapshot) {
	if c.closed() {
		h.registry.Cancel(snap.ExecutionID)
		return
	}
	resp, err := ws.NewResponse(msg.ID, msg.Action, ws.StartAck{
		Success:       true,
		ExecutionID:   snap.ExecutionID,
		CorrelationID: snap.CorrelationID,
	})
	if err != nil {
		h.registry.Cancel(snap.ExecutionID)
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	if !c.sendMessage(resp) {
		h.registry.Cancel(snap.ExecutionID)
		return
	}
	h.registry.Launch(snap.ExecutionID)
}

func (h *ExecutionHandlers) handleCancel(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ws.CancelCommandRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ExecutionID == "" {
		return ws.NewResponse(msg.ID, msg.Action, ws.Ack{
			Success: false,
			Error:   "executionId is required",
			Code:    string(execution.CodeValidation),
		})
	}

	found := h.registry.Cancel(req.ExecutionID)
	h.logger.Debug("cancel requested",
		zap.String("id", req.ExecutionID),
		zap.Bool("found", found))
	return ws.NewResponse(msg.ID, msg.Action, ws.Ack{Success: true})
}

func (h *ExecutionHandlers) handleInput(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ws.PTYInputRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	return ackFor(msg, h.registry.ForwardInput(req.ExecutionID, []byte(req.Data)))
}

func (h *ExecutionHandlers) handleResize(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ws.PTYResizeRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	return ackFor(msg, h.registry.Resize(req.ExecutionID, req.Cols, req.Rows))
}

func ackFor(msg *ws.Message, err error) (*ws.Message, error) {
	if err != nil {
		return ws.NewResponse(msg.ID, msg.Action, ws.Ack{
			Success: false,
			Error:   err.Error(),
			Code:    string(execution.CodeOf(err)),
		})
	}
	return ws.NewResponse(msg.ID, msg.Action, ws.Ack{Success: true})
}
