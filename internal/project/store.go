package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the SQL-backed Resolver and SessionIndex.
type Store struct {
	db *sqlx.DB
}

var (
	_ Resolver     = (*Store)(nil)
	_ SessionIndex = (*Store)(nil)
)

// NewStore wraps db (driver "sqlite3" or "pgx") and creates the schema.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP NOT NULL,
			PRIMARY KEY (project_id, id)
		)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertProject inserts or updates a project.
func (s *Store) UpsertProject(ctx context.Context, p *Project) error {
	if p.ID == "" || p.Path == "" {
		return errors.New("project id and path are required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, path = excluded.path
	`), p.ID, p.Name, p.Path, p.CreatedAt)
	return err
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT id, name, path, created_at FROM projects WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects ordered by ID.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	var out []*Project
	err := s.db.SelectContext(ctx, &out, `SELECT id, name, path, created_at FROM projects ORDER BY id`)
	return out, err
}

// Resolve implements Resolver.
func (s *Store) Resolve(ctx context.Context, projectID string) (string, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return p.Path, nil
}

// HasSession implements SessionIndex.
func (s *Store) HasSession(ctx context.Context, projectID, sessionID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(1) FROM agent_sessions WHERE project_id = ? AND id = ?`), projectID, sessionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordSession implements SessionIndex. Recording a known session bumps last_used_at.
func (s *Store) RecordSession(ctx context.Context, projectID, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agent_sessions (id, project_id, created_at, last_used_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET last_used_at = excluded.last_used_at
	`), sessionID, projectID, now, now)
	return err
}

// ListSessions returns the sessions of a project, most recently used first.
func (s *Store) ListSessions(ctx context.Context, projectID string) ([]*Session, error) {
	var out []*Session
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, project_id, created_at, last_used_at FROM agent_sessions
		WHERE project_id = ? ORDER BY last_used_at DESC`), projectID)
	return out, err
}
