// Package postgres implements the aligncache.Store interface on PostgreSQL
// for shared deployments where multiple reader instances benefit from each
// other's alignment work (the same book, voice, and speed only needs to be
// aligned once per fleet).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lectern/internal/align"
	"github.com/MrWong99/lectern/internal/aligncache"
)

// schemaVersion guards row decoding, mirroring the sqlite store.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS alignments (
	document_id    TEXT    NOT NULL,
	paragraph      INTEGER NOT NULL,
	sentence       INTEGER NOT NULL,
	voice_id       TEXT    NOT NULL,
	speed_centi    INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	result         JSONB   NOT NULL,
	PRIMARY KEY (document_id, paragraph, sentence, voice_id, speed_centi)
);
`

// Store is a PostgreSQL-backed aligncache.Store built on a pgx pool.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ aligncache.Store = (*Store)(nil)

// NewStore connects to the database at dsn, verifies the connection, and
// ensures the alignments table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("aligncache postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("aligncache postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("aligncache postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("aligncache postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Load fetches the alignment for key. Missing and undecodable rows both
// return (nil, nil).
func (s *Store) Load(ctx context.Context, key aligncache.Key) (*align.Result, error) {
	var (
		version int
		payload []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT schema_version, result FROM alignments
		WHERE document_id = $1 AND paragraph = $2 AND sentence = $3 AND voice_id = $4 AND speed_centi = $5`,
		key.DocumentID, key.Paragraph, key.Sentence, key.VoiceID, key.SpeedCenti,
	).Scan(&version, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("aligncache postgres: load: %w", err)
	}

	if version != schemaVersion {
		return nil, nil
	}
	var result align.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, nil
	}
	return &result, nil
}

// Save upserts the alignment for key.
func (s *Store) Save(ctx context.Context, key aligncache.Key, result *align.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("aligncache postgres: encode: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alignments (document_id, paragraph, sentence, voice_id, speed_centi, schema_version, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id, paragraph, sentence, voice_id, speed_centi)
		DO UPDATE SET schema_version = EXCLUDED.schema_version, result = EXCLUDED.result`,
		key.DocumentID, key.Paragraph, key.Sentence, key.VoiceID, key.SpeedCenti, schemaVersion, payload,
	)
	if err != nil {
		return fmt.Errorf("aligncache postgres: save: %w", err)
	}
	return nil
}

// Clear deletes all rows belonging to documentID.
func (s *Store) Clear(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM alignments WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("aligncache postgres: clear: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
