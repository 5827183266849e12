// Package postgres provides a PostgreSQL-backed ledger.Store.
//
// One row is kept per (provider, model) key; Save is an UPSERT so the
// write path is a single atomic statement. The schema is created on
// startup by NewStore.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auricle-audio/auricle/internal/ledger"
)

// Compile-time assertion that Store satisfies ledger.Store.
var _ ledger.Store = (*Store)(nil)

// Store is a ledger.Store backed by a pgx connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection, and ensures the usage_records table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate creates the usage_records table if it does not exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS usage_records (
			key                  text PRIMARY KEY,
			request_count        integer NOT NULL DEFAULT 0,
			token_count          bigint NOT NULL DEFAULT 0,
			audio_seconds        double precision NOT NULL DEFAULT 0,
			hourly_audio_seconds double precision NOT NULL DEFAULT 0,
			daily_reset_at       timestamptz NOT NULL,
			hourly_reset_at      timestamptz NOT NULL
		)`
	_, err := pool.Exec(ctx, q)
	return err
}

// Load implements ledger.Store.
func (s *Store) Load(ctx context.Context, key string) (ledger.Record, bool, error) {
	const q = `
		SELECT request_count, token_count, audio_seconds, hourly_audio_seconds,
		       daily_reset_at, hourly_reset_at
		FROM   usage_records
		WHERE  key = $1`

	var rec ledger.Record
	err := s.pool.QueryRow(ctx, q, key).Scan(
		&rec.RequestCount,
		&rec.TokenCount,
		&rec.AudioSeconds,
		&rec.HourlyAudioSeconds,
		&rec.DailyResetAt,
		&rec.HourlyResetAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("ledger store: load %q: %w", key, err)
	}
	return rec, true, nil
}

// Save implements ledger.Store.
func (s *Store) Save(ctx context.Context, key string, rec ledger.Record) error {
	const q = `
		INSERT INTO usage_records
		    (key, request_count, token_count, audio_seconds, hourly_audio_seconds,
		     daily_reset_at, hourly_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
		    request_count        = EXCLUDED.request_count,
		    token_count          = EXCLUDED.token_count,
		    audio_seconds        = EXCLUDED.audio_seconds,
		    hourly_audio_seconds = EXCLUDED.hourly_audio_seconds,
		    daily_reset_at       = EXCLUDED.daily_reset_at,
		    hourly_reset_at      = EXCLUDED.hourly_reset_at`

	_, err := s.pool.Exec(ctx, q, key,
		rec.RequestCount,
		rec.TokenCount,
		rec.AudioSeconds,
		rec.HourlyAudioSeconds,
		rec.DailyResetAt,
		rec.HourlyResetAt,
	)
	if err != nil {
		return fmt.Errorf("ledger store: save %q: %w", key, err)
	}
	return nil
}

// Ping implements ledger.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
