// Package database stores subtitles in PostgreSQL. Every query is scoped to
// the owning user.
package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ApplicationName tags the service's sessions in pg_stat_activity unless the
// DSN sets its own.
const ApplicationName = "subtitle-engine"

const healthTimeout = 2 * time.Second

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens the subtitle pool and pings it. maxConns <= 0 leaves the
// pgxpool default; the idle floor is kept at a quarter of the ceiling since
// request load is bursty.
func Connect(ctx context.Context, databaseURL string, maxConns int32, log zerolog.Logger) (*DB, error) {
	cfg, err := poolConfig(databaseURL, maxConns)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", maskDSN(databaseURL), err)
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")
	return &DB{Pool: pool, log: log}, nil
}

func poolConfig(databaseURL string, maxConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if floor := cfg.MaxConns / 4; cfg.MinConns > floor {
		cfg.MinConns = floor
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}
	return cfg, nil
}

// HealthCheck pings the pool with a short deadline of its own.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// maskDSN hides the password for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
