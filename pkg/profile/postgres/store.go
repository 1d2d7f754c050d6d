// Package postgres provides the PostgreSQL-backed speaker-profile store.
//
// Profiles live in a single speaker_profiles table with two pgvector columns
// (voice and writing style). The pgvector extension must be available in the
// target database; [Migrate] installs it automatically via CREATE EXTENSION
// IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, postgres.Dimensions{Voice: 192, Text: 1536})
//	if err != nil { … }
//	defer store.Close()
//
//	profiles, _ := store.ProfilesByUser(ctx, userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/speakerid/pkg/profile"
)

// Compile-time interface check.
var _ profile.Store = (*Store)(nil)

// Dimensions fixes the vector column widths at schema creation time. Voice
// dimensions come from the upstream diarization model, text dimensions from
// the configured embedding model. Changing either after the first migration
// requires a manual schema change.
type Dimensions struct {
	Voice int
	Text  int
}

// Store is the PostgreSQL-backed implementation of [profile.Store]. It holds a
// single [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// the schema exists.
func NewStore(ctx context.Context, dsn string, dims Dimensions) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies the database connection is still alive. Used by readiness
// checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("profile store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool. It should be
// called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
