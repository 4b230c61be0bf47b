package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// PostgresStore keeps lease records in a stream_leases table so that a
// fleet of stateless instances agrees on stream ownership. Schema:
//
//	CREATE TABLE stream_leases (
//	    stream_id  TEXT PRIMARY KEY,
//	    token      TEXT NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
//
// Last-writer-wins is intentional: Acquire upserts unconditionally.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore returns a lease store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, ttl: ttl}
}

// Acquire writes a fresh token for the stream, overwriting any holder.
func (s *PostgresStore) Acquire(ctx context.Context, id domain.StreamID) (string, error) {
	token := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_leases (stream_id, token, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (stream_id)
		DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at`,
		string(id), token, s.ttl)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Check reports whether token still owns the stream's lease.
func (s *PostgresStore) Check(ctx context.Context, id domain.StreamID, token string) (bool, error) {
	var stored string
	err := s.pool.QueryRow(ctx, `
		SELECT token FROM stream_leases
		WHERE stream_id = $1 AND expires_at > now()`,
		string(id)).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == token, nil
}

// Release deletes the lease if token still owns it.
func (s *PostgresStore) Release(ctx context.Context, id domain.StreamID, token string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM stream_leases WHERE stream_id = $1 AND token = $2`,
		string(id), token)
	return err
}
