// Package database wires sqlx/lib/pq against the Postgres connection
// parameters of infrastructure/config.DatabaseConfig, and provides the
// Postgres-backed store implementations for domain/workflow,
// domain/service, and domain/subscriber, sharing a single
// transaction-in-context pattern so a commit=false lifecycle-machine call
// can share a *sqlx.Tx with the caller's own aggregate write (spec.md §5,
// §9 "Composition of machines").
package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dotmac/ispsaga/infrastructure/config"
)

// Open dials Postgres via lib/pq and configures the pool per cfg, mirroring
// pkg/storage/postgres's sibling but built on sqlx so the per-entity stores
// can use StructScan/Get/Select against tagged row structs.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.ConnectionString()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}
