// Package db opens the SQL connections backing the project store.
package db

import (
	"database/sql"
	"fmt"
)

// pool bounds the connections database/sql keeps for one handle.
type pool struct {
	maxOpen int
	maxIdle int
}

func open(driver, dsn string, p pool) (*sql.DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	conn.SetMaxOpenConns(p.maxOpen)
	conn.SetMaxIdleConns(p.maxIdle)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return conn, nil
}
