// Package manifest records which documents were ingested, their content hash
// and the chunk ids written for them, in a small SQLite database.
//
// The store uses modernc.org/sqlite, a pure Go driver, so the binary needs no CGO.
package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"policyrag/internal/domain"
)

var _ domain.Manifest = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS ingested_documents (
	source       TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_ids    TEXT NOT NULL,
	ingested_at  INTEGER NOT NULL
)`

// Store is a SQLite-backed domain.Manifest.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the manifest database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating manifest schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Get returns the entry for source or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, source string) (domain.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, filename, content_hash, chunk_ids, ingested_at FROM ingested_documents WHERE source = ?`, source)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ManifestEntry{}, domain.ErrNotFound
	}
	return entry, err
}

// Put inserts or replaces the entry for entry.Source.
func (s *Store) Put(ctx context.Context, entry domain.ManifestEntry) error {
	ids, err := json.Marshal(entry.ChunkIDs)
	if err != nil {
		return fmt.Errorf("marshalling chunk ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingested_documents (source, filename, content_hash, chunk_ids, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			filename = excluded.filename,
			content_hash = excluded.content_hash,
			chunk_ids = excluded.chunk_ids,
			ingested_at = excluded.ingested_at`,
		entry.Source, entry.Filename, entry.ContentHash, string(ids), entry.IngestedAt)
	if err != nil {
		return fmt.Errorf("saving manifest entry %s: %w", entry.Source, err)
	}
	return nil
}

// List returns all entries ordered by source.
func (s *Store) List(ctx context.Context) ([]domain.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, filename, content_hash, chunk_ids, ingested_at FROM ingested_documents ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("listing manifest: %w", err)
	}
	defer rows.Close()

	var entries []domain.ManifestEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ingested_documents`); err != nil {
		return fmt.Errorf("clearing manifest: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.ManifestEntry, error) {
	var (
		entry domain.ManifestEntry
		ids   string
	)
	if err := row.Scan(&entry.Source, &entry.Filename, &entry.ContentHash, &ids, &entry.IngestedAt); err != nil {
		return domain.ManifestEntry{}, err
	}
	if err := json.Unmarshal([]byte(ids), &entry.ChunkIDs); err != nil {
		return domain.ManifestEntry{}, fmt.Errorf("unmarshalling chunk ids for %s: %w", entry.Source, err)
	}
	return entry, nil
}
