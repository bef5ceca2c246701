package project

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/config"
	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/db"
)

// Provide opens the configured database, creates the schema and seeds it
// from the static table and the optional seed file.
func Provide(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, func() error, error) {
	var conn *sqlx.DB
	switch cfg.Database.Driver {
	case "postgres":
		sqlDB, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, nil, err
		}
		conn = sqlx.NewDb(sqlDB, "pgx")
	default:
		sqlDB, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		conn = sqlx.NewDb(sqlDB, "sqlite3")
	}

	store, err := NewStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	seed := FromStatic(cfg.Projects.Static)
	if cfg.Projects.SeedFile != "" {
		fromFile, err := LoadSeedFile(cfg.Projects.SeedFile)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		seed = append(seed, fromFile...)
	}
	if err := store.Seed(ctx, seed); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("seed projects: %w", err)
	}

	log.Info("project store ready",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("seeded", len(seed)))
	return store, store.Close, nil
}
