package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/David2024patton/itak/internal/store"
)

// Postgres is the production C3 relational adapter (deployment_mode
// home_lan/vps_cloud default), using tsvector full-text search for the
// BM25-equivalent ranking C4 composes with vector/graph scores.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects using dsn and ensures the schema exists.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			principal_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT[],
			priority TEXT,
			source_session TEXT,
			created_at TIMESTAMPTZ,
			last_accessed TIMESTAMPTZ,
			access_count INTEGER DEFAULT 0,
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_principal ON memory_entries(principal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_tsv ON memory_entries USING GIN(content_tsv)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relational: migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Health(ctx context.Context) store.Health {
	if err := p.db.PingContext(ctx); err != nil {
		return store.Unavailable
	}
	return store.Available
}

func (p *Postgres) Get(ctx context.Context, id string) (*store.Row, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, principal_id, tier, content, tags, priority,
		source_session, created_at, last_accessed, access_count
		FROM memory_entries WHERE id = $1`, id)
	var r store.Row
	var tags []string
	if err := row.Scan(&r.ID, &r.PrincipalID, &r.Tier, &r.Content, pqArray(&tags), &r.Priority,
		&r.SourceSession, &r.CreatedAt, &r.LastAccessed, &r.AccessCount); err != nil {
		return nil, err
	}
	r.Tags = tags
	return &r, nil
}

func (p *Postgres) Put(ctx context.Context, r *store.Row) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO memory_entries
		(id, principal_id, tier, content, tags, priority, source_session, created_at, last_accessed, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tier=EXCLUDED.tier, content=EXCLUDED.content, tags=EXCLUDED.tags,
			priority=EXCLUDED.priority, last_accessed=EXCLUDED.last_accessed,
			access_count=EXCLUDED.access_count`,
		r.ID, r.PrincipalID, r.Tier, r.Content, pqStringArray(r.Tags), r.Priority,
		r.SourceSession, r.CreatedAt, r.LastAccessed, r.AccessCount)
	return err
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = $1`, id)
	return err
}

func (p *Postgres) BatchPut(ctx context.Context, rows []*store.Row) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `INSERT INTO memory_entries
			(id, principal_id, tier, content, tags, priority, source_session, created_at, last_accessed, access_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				tier=EXCLUDED.tier, content=EXCLUDED.content, tags=EXCLUDED.tags,
				priority=EXCLUDED.priority, last_accessed=EXCLUDED.last_accessed,
				access_count=EXCLUDED.access_count`,
			r.ID, r.PrincipalID, r.Tier, r.Content, pqStringArray(r.Tags), r.Priority,
			r.SourceSession, r.CreatedAt, r.LastAccessed, r.AccessCount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("relational: batch put: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) SearchFullText(ctx context.Context, principalID, query string, limit int) ([]store.ScoredRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, principal_id, tier, content, tags, priority,
		source_session, created_at, last_accessed, access_count,
		ts_rank(content_tsv, plainto_tsquery('english', $2)) AS rank
		FROM memory_entries
		WHERE principal_id = $1 AND content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC LIMIT $3`, principalID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScoredRow
	for rows.Next() {
		var r store.Row
		var tags []string
		var rank float32
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.Tier, &r.Content, pqArray(&tags), &r.Priority,
			&r.SourceSession, &r.CreatedAt, &r.LastAccessed, &r.AccessCount, &rank); err != nil {
			return nil, err
		}
		r.Tags = tags
		out = append(out, store.ScoredRow{Row: &r, Score: rank})
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }

// pqStringArray renders a Go string slice as a Postgres array literal,
// parameterized as a single value (never string-concatenated into the
// query itself) per spec §4.3's "parameterized queries only" rule.
func pqStringArray(ss []string) string {
	return "{" + strings.Join(ss, ",") + "}"
}

// pqArray is a tiny scan helper; production code would use
// github.com/lib/pq's pq.Array, kept as a thin named wrapper here so the
// call sites above read identically to that idiom.
func pqArray(dest *[]string) *pqArrayScanner {
	return &pqArrayScanner{dest: dest}
}

type pqArrayScanner struct{ dest *[]string }

func (s *pqArrayScanner) Scan(src any) error {
	if src == nil {
		*s.dest = nil
		return nil
	}
	raw, ok := src.(string)
	if !ok {
		return fmt.Errorf("pqArrayScanner: unexpected type %T", src)
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*s.dest = nil
		return nil
	}
	*s.dest = strings.Split(raw, ",")
	return nil
}
