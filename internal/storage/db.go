// Package storage persists raw items, enriched alerts and the geocode
// cache in Postgres with the pgvector extension.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // goose runs migrations over database/sql
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/storage/migrations"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Store is the shared database handle. One instance serves the whole
// process; the pool handles per-query concurrency.
type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// New connects with retries and registers the pgvector codec on every
// pooled connection.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}

	poolCfg.MaxConns = cfg.DBMaxConnections
	poolCfg.MinConns = cfg.DBMinConnections
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdle
	poolCfg.MaxConnLifetime = cfg.DBMaxConnLife
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	var pool *pgxpool.Pool

	for attempt := 1; ; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}

			pool.Close()
		}

		if attempt >= connectAttempts {
			return nil, fmt.Errorf("storage: connect after %d attempts: %w", attempt, err)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("storage: connect failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff * time.Duration(attempt)):
		}
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("storage: open for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("storage: set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}

	return nil
}

// Ping reports connectivity for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
