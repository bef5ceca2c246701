// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// ShutdownTimeout bounds graceful HTTP shutdown and bus drain.
	ShutdownTimeout = 10 * time.Second

	// SpawnTimeout bounds a single process spawn including project lookup.
	SpawnTimeout = 30 * time.Second

	// WSWriteWait is the deadline for writing one websocket frame.
	WSWriteWait = 10 * time.Second

	// WSPongWait is how long a peer may stay silent before it is dropped.
	WSPongWait = 60 * time.Second

	// WSPingPeriod must be shorter than WSPongWait.
	WSPingPeriod = (WSPongWait * 9) / 10

	// WSMaxMessageSize caps inbound frames. Commands are capped well below this.
	WSMaxMessageSize = 512 * 1024
)
