// Package project resolves project IDs to working directories and keeps
// the index of agent sessions started in each project.
package project

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a project ID is unknown.
var ErrNotFound = errors.New("project not found")

// Project is a directory the agent may run in.
type Project struct {
	ID        string    `db:"id" yaml:"id"`
	Name      string    `db:"name" yaml:"name"`
	Path      string    `db:"path" yaml:"path"`
	CreatedAt time.Time `db:"created_at" yaml:"-"`
}

// Session is an agent session known to have run in a project.
type Session struct {
	ID         string    `db:"id"`
	ProjectID  string    `db:"project_id"`
	CreatedAt  time.Time `db:"created_at"`
	LastUsedAt time.Time `db:"last_used_at"`
}

// Resolver maps a project ID to its path. It returns ErrNotFound for
// unknown IDs.
type Resolver interface {
	Resolve(ctx context.Context, projectID string) (string, error)
}

// SessionIndex records which agent sessions exist per project.
type SessionIndex interface {
	HasSession(ctx context.Context, projectID, sessionID string) (bool, error)
	RecordSession(ctx context.Context, projectID, sessionID string) error
}
