// Package connection drives the client's connection lifecycle: dialing,
// reconnecting with exponential backoff and reporting state changes.
package connection

import (
	"fmt"
	"math"
	"time"
)

// Phase is the kind of a connection state.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Failed:
		return "Error"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is one connection state. Attempt is set for Reconnecting and
// Message for Failed.
type State struct {
	Phase   Phase
	Attempt int
	Message string
}

func (s State) String() string {
	switch s.Phase {
	case Reconnecting:
		return fmt.Sprintf("Reconnecting{%d}", s.Attempt)
	case Failed:
		return fmt.Sprintf("Error{%s}", s.Message)
	default:
		return s.Phase.String()
	}
}

// Backoff computes reconnect delays.
type Backoff struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s doubling up to 30s, for at most 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Multiplier:  2.0,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns min(Initial * Multiplier^(attempt-1), Max) for attempt >= 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}
