package websocket

// Request actions (client -> server). Each expects exactly one response.
const (
	ActionHealthCheck   = "health.check"
	ActionStartCommand  = "start-command"
	ActionCancelCommand = "cancel-command"
	ActionStartPTY      = "start-pty"
	ActionPTYInput      = "pty-input"
	ActionPTYResize     = "pty-resize"
)

// Notification actions (server -> client), ordered per execution.
const (
	ActionOutputChunk     = "output-chunk"
	ActionCommandComplete = "command-complete"
	ActionCommandError    = "command-error"
)

// Envelope error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
