//go:build !cgo

// Package relational implements the C3 relational store contract over
// SQLite (CGO-free build, via modernc.org/sqlite) and Postgres (via
// lib/pq). Which file compiles is selected by the cgo build tag,
// mirroring the teacher's own dual mattn/go-sqlite3 (cgo) /
// modernc.org/sqlite (no-cgo) support for the local_dev deployment_mode.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/David2024patton/itak/internal/store"
)

// SQLite is a store.Relational backed by a local SQLite file, the
// default C3 relational adapter for deployment_mode=local_dev.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a SQLite database at path and
// ensures the memory_entries table and its FTS5 shadow index exist.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("relational: open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			principal_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			priority TEXT,
			source_session TEXT,
			created_at TIMESTAMP,
			last_accessed TIMESTAMP,
			access_count INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_principal ON memory_entries(principal_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_entries_fts USING fts5(
			id UNINDEXED, principal_id UNINDEXED, content
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relational: migrate: %w", err)
		}
	}
	return nil
}

// Health reports Available if a ping succeeds, Unavailable otherwise.
func (s *SQLite) Health(ctx context.Context) store.Health {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unavailable
	}
	return store.Available
}

// Get fetches a row by id using a parameterized query.
func (s *SQLite) Get(ctx context.Context, id string) (*store.Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, principal_id, tier, content, tags, priority,
		source_session, created_at, last_accessed, access_count
		FROM memory_entries WHERE id = ?`, id)
	return scanRow(row)
}

func scanRow(row *sql.Row) (*store.Row, error) {
	var r store.Row
	var tags string
	if err := row.Scan(&r.ID, &r.PrincipalID, &r.Tier, &r.Content, &tags, &r.Priority,
		&r.SourceSession, &r.CreatedAt, &r.LastAccessed, &r.AccessCount); err != nil {
		return nil, err
	}
	if tags != "" {
		r.Tags = strings.Split(tags, ",")
	}
	return &r, nil
}

// Put upserts a single row, parameterized throughout.
func (s *SQLite) Put(ctx context.Context, r *store.Row) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO memory_entries
		(id, principal_id, tier, content, tags, priority, source_session, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier=excluded.tier, content=excluded.content, tags=excluded.tags,
			priority=excluded.priority, last_accessed=excluded.last_accessed,
			access_count=excluded.access_count`,
		r.ID, r.PrincipalID, r.Tier, r.Content, strings.Join(r.Tags, ","), r.Priority,
		r.SourceSession, r.CreatedAt, r.LastAccessed, r.AccessCount)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO memory_entries_fts (id, principal_id, content) VALUES (?, ?, ?)`,
		r.ID, r.PrincipalID, r.Content)
	return err
}

// Delete removes a row (idempotent: deleting a missing id is not an error).
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries_fts WHERE id = ?`, id)
	return err
}

// BatchPut writes all rows inside a single transaction: either every
// row commits, or the transaction rolls back and none do.
func (s *SQLite) BatchPut(ctx context.Context, rows []*store.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `INSERT INTO memory_entries
			(id, principal_id, tier, content, tags, priority, source_session, created_at, last_accessed, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tier=excluded.tier, content=excluded.content, tags=excluded.tags,
				priority=excluded.priority, last_accessed=excluded.last_accessed,
				access_count=excluded.access_count`,
			r.ID, r.PrincipalID, r.Tier, r.Content, strings.Join(r.Tags, ","), r.Priority,
			r.SourceSession, r.CreatedAt, r.LastAccessed, r.AccessCount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("relational: batch put: %w", err)
		}
	}
	return tx.Commit()
}

// SearchFullText runs a BM25-ranked FTS5 query scoped to principalID.
func (s *SQLite) SearchFullText(ctx context.Context, principalID, query string, limit int) ([]store.ScoredRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.principal_id, m.tier, m.content, m.tags, m.priority,
		m.source_session, m.created_at, m.last_accessed, m.access_count, bm25(memory_entries_fts) AS rank
		FROM memory_entries_fts
		JOIN memory_entries m ON m.id = memory_entries_fts.id
		WHERE memory_entries_fts MATCH ? AND m.principal_id = ?
		ORDER BY rank LIMIT ?`, query, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScoredRow
	for rows.Next() {
		var r store.Row
		var tags string
		var rank float64
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.Tier, &r.Content, &tags, &r.Priority,
			&r.SourceSession, &r.CreatedAt, &r.LastAccessed, &r.AccessCount, &rank); err != nil {
			return nil, err
		}
		if tags != "" {
			r.Tags = strings.Split(tags, ",")
		}
		// bm25() returns lower-is-better; invert to a [0,1]-ish
		// similarity so it composes with vector/graph scores in C4's
		// weighted fusion the same way cosine similarity does.
		score := float32(1.0 / (1.0 + (-rank)))
		if rank >= 0 {
			score = float32(1.0 / (1.0 + rank))
		}
		out = append(out, store.ScoredRow{Row: &r, Score: score})
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }
