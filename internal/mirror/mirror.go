// Package mirror implements the durable local identity store.
//
// The mirror is the real-time source of truth for this process: every
// mutation commits here first, before the in-memory cache is touched and
// before the remote tier hears about it. It is a single SQLite table keyed
// by person id, with the current face embedding stored inline as a
// little-endian float32 blob.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/identity"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS people (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	relation   TEXT NOT NULL,
	last_met   TEXT NOT NULL,
	context    TEXT NOT NULL,
	embedding  BLOB,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_people_name ON people(name);
`

// Store is the SQLite-backed identity mirror.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the mirror database at dbPath.
// It enables WAL mode and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds a new person, optionally with an embedding. Returns
// identity.ErrAlreadyExists when the id is already taken; in that case no
// state changes.
func (s *Store) Insert(ctx context.Context, p identity.Person, embedding []float32) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var blob []byte
	if embedding != nil {
		blob = packEmbedding(embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (id, name, relation, last_met, context, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Relation, p.LastMet, p.Context, blob, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", p.ID, identity.ErrAlreadyExists)
		}
		return fmt.Errorf("insert %s: %w", p.ID, err)
	}
	return nil
}

// Get returns the person with the given id, or identity.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (identity.Person, error) {
	var p identity.Person
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, relation, last_met, context FROM people WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Relation, &p.LastMet, &p.Context)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Person{}, fmt.Errorf("get %s: %w", id, identity.ErrNotFound)
	}
	if err != nil {
		return identity.Person{}, fmt.Errorf("get %s: %w", id, err)
	}
	return p, nil
}

// List returns all people, without embeddings, ordered by name.
func (s *Store) List(ctx context.Context) ([]identity.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, relation, last_met, context FROM people ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var people []identity.Person
	for rows.Next() {
		var p identity.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Relation, &p.LastMet, &p.Context); err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// ListWithEmbeddings returns every person that currently has an embedding.
// This is the cache-load query: rows without an embedding cannot be matched
// and are excluded.
func (s *Store) ListWithEmbeddings(ctx context.Context) ([]identity.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, relation, last_met, context, embedding
		FROM people WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list with embeddings: %w", err)
	}
	defer rows.Close()

	var entries []identity.Entry
	for rows.Next() {
		var e identity.Entry
		var blob []byte
		if err := rows.Scan(&e.Person.ID, &e.Person.Name, &e.Person.Relation,
			&e.Person.LastMet, &e.Person.Context, &blob); err != nil {
			return nil, fmt.Errorf("list with embeddings scan: %w", err)
		}
		e.Embedding = unpackEmbedding(blob)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateEmbedding replaces the embedding for the given person. The previous
// embedding, if any, is discarded; there is no history. Returns
// identity.ErrNotFound when no row matches.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE people SET embedding = ?, updated_at = ? WHERE id = ?
	`, packEmbedding(embedding), now, id)
	if err != nil {
		return fmt.Errorf("update embedding %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update embedding %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update embedding %s: %w", id, identity.ErrNotFound)
	}
	return nil
}

// Delete removes the person with the given id. Returns identity.ErrNotFound
// when no row matches.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, identity.ErrNotFound)
	}
	return nil
}

// ReplaceAll overwrites the entire table with the given snapshot in one
// transaction. Either the whole snapshot lands or the prior contents stay
// untouched. Used when the remote tier is authoritative at startup.
func (s *Store) ReplaceAll(ctx context.Context, entries []identity.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace all: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM people`); err != nil {
		return fmt.Errorf("replace all: clear: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO people (id, name, relation, last_met, context, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("replace all: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Person.ID == "" {
			continue
		}
		var blob []byte
		if e.Embedding != nil {
			blob = packEmbedding(e.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, e.Person.ID, e.Person.Name, e.Person.Relation,
			e.Person.LastMet, e.Person.Context, blob, now, now); err != nil {
			return fmt.Errorf("replace all: insert %s: %w", e.Person.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace all: commit: %w", err)
	}
	return nil
}

// Count returns the number of people in the mirror.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM people`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// isUniqueViolation reports whether err is a primary-key conflict. The
// modernc driver does not export a typed constraint error, so match on the
// SQLite message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
