// Package events names the execution lifecycle events published on the bus.
package events

// Subjects for execution lifecycle events.
const (
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ExecutionCancelled = "execution.cancelled"

	// ExecutionWildcard matches every execution subject.
	ExecutionWildcard = "execution.>"
)

// Source identifies events published by the execution registry.
const Source = "execution-registry"
