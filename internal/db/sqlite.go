package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const busyTimeout = 5 * time.Second

// OpenSQLite opens or creates the database file at path, creating parent
// directories as needed. SQLite allows one writer, so the pool holds a
// single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		path = abs
	}

	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_mode", "rwc")
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))

	return open("sqlite3", "file:"+path+"?"+q.Encode(), pool{maxOpen: 1, maxIdle: 1})
}
