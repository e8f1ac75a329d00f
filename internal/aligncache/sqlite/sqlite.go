// Package sqlite implements the aligncache.Store interface on a local
// SQLite database, the default durable tier for single-device deployments.
//
// Word timings are stored as a JSON column so the schema stays stable while
// the timing struct evolves; a schema_version column guards decoding — rows
// written by an unknown version read as a cache miss, never as an error.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/lectern/internal/align"
	"github.com/MrWong99/lectern/internal/aligncache"
)

// schemaVersion is written with every row. Bump when the serialized layout
// of align.Result changes incompatibly.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS alignments (
	document_id    TEXT    NOT NULL,
	paragraph      INTEGER NOT NULL,
	sentence       INTEGER NOT NULL,
	voice_id       TEXT    NOT NULL,
	speed_centi    INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	result         TEXT    NOT NULL,
	PRIMARY KEY (document_id, paragraph, sentence, voice_id, speed_centi)
);
`

// Store is a SQLite-backed aligncache.Store. Safe for concurrent use; the
// database/sql pool serializes access to the single writer connection.
type Store struct {
	db *sql.DB
}

var _ aligncache.Store = (*Store)(nil)

// Open creates or opens the alignment database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("aligncache sqlite: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("aligncache sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load fetches the alignment for key. Missing and undecodable rows both
// return (nil, nil).
func (s *Store) Load(ctx context.Context, key aligncache.Key) (*align.Result, error) {
	var (
		version int
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT schema_version, result FROM alignments
		WHERE document_id = ? AND paragraph = ? AND sentence = ? AND voice_id = ? AND speed_centi = ?`,
		key.DocumentID, key.Paragraph, key.Sentence, key.VoiceID, key.SpeedCenti,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("aligncache sqlite: load: %w", err)
	}

	if version != schemaVersion {
		return nil, nil
	}
	var result align.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		// Corrupt row: a miss, not an error.
		return nil, nil
	}
	return &result, nil
}

// Save upserts the alignment for key.
func (s *Store) Save(ctx context.Context, key aligncache.Key, result *align.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("aligncache sqlite: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alignments (document_id, paragraph, sentence, voice_id, speed_centi, schema_version, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, paragraph, sentence, voice_id, speed_centi)
		DO UPDATE SET schema_version = excluded.schema_version, result = excluded.result`,
		key.DocumentID, key.Paragraph, key.Sentence, key.VoiceID, key.SpeedCenti, schemaVersion, payload,
	)
	if err != nil {
		return fmt.Errorf("aligncache sqlite: save: %w", err)
	}
	return nil
}

// Clear deletes all rows belonging to documentID.
func (s *Store) Clear(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM alignments WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("aligncache sqlite: clear: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
