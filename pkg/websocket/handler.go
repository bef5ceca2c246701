package websocket

import "context"

// HandlerFunc answers one request. A nil response means the handler has
// already replied on its own.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Dispatcher maps request actions to handlers. Registration happens
// before the server starts, so lookups take no lock.
type Dispatcher struct {
	routes map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]HandlerFunc)}
}

// RegisterFunc routes action to fn, replacing any earlier handler.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.routes[action] = fn
}

// HasHandler reports whether action is routed.
func (d *Dispatcher) HasHandler(action string) bool {
	_, ok := d.routes[action]
	return ok
}

// Dispatch runs the handler for msg.Action. Unrouted actions get an
// UNKNOWN_ACTION error response.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	fn, ok := d.routes[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction, "Unknown action: "+msg.Action, nil)
	}
	return fn(ctx, msg)
}
