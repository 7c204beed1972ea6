// Package postgres implements the DB Gateway (C2) against PostgreSQL:
// typed job_queue/images/teams/plugins operations, connection pooling,
// and transaction support via pgx.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig tunes the pgx pool. Filler and consumer nodes carry
// different connection profiles (a filler only ever issues short
// claim/mark-terminal statements; a consumer additionally holds a
// transaction open for InsertImages), so both roles supply their own
// values rather than share one fixed constant.
type PoolConfig struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// NewPool creates a pgx connection pool from dsn, tuned by poolCfg and
// instrumented with OpenTelemetry tracing and connection-pool stats.
func NewPool(ctx context.Context, dsn string, poolCfg PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = poolCfg.MaxConns
	cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime

	cfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}
