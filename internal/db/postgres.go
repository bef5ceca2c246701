package db

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres connects through the pgx stdlib driver. Zero pool sizes
// mean 10 open and 2 idle connections.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	p := pool{maxOpen: 10, maxIdle: 2}
	if maxConns > 0 {
		p.maxOpen = maxConns
	}
	if minConns > 0 {
		p.maxIdle = minConns
	}
	return open("pgx", dsn, p)
}
