// Package graph implements the C3 graph store contract over a generic
// database/sql connection, so it can sit on either the sqlite or
// postgres database already opened for the relational adapter.
package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/David2024patton/itak/internal/store"
)

// SQLGraph is a store.Graph backed by a simple edges table, using
// SQLite's "?" placeholder style — intended to share the *sql.DB opened
// by relational.SQLite. A Postgres-backed deployment uses its own
// "$n"-placeholder edges table instead (see relational.Postgres's
// migrate for the matching schema shape); it performs traversal by
// repeated breadth-first expansion up to maxHops, which is adequate at
// the node/edge counts a personal memory graph reaches.
type SQLGraph struct {
	db *sql.DB
}

// New wraps an existing *sql.DB (shared with the relational adapter) and
// ensures the edges table exists.
func New(db *sql.DB) (*SQLGraph, error) {
	g := &SQLGraph{db: db}
	if _, err := db.ExecContext(context.Background(), `CREATE TABLE IF NOT EXISTS graph_edges (
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		source_memory_id TEXT,
		confidence REAL,
		created_at TIMESTAMP,
		PRIMARY KEY (subject, predicate, object)
	)`); err != nil {
		return nil, fmt.Errorf("graph: migrate: %w", err)
	}
	return g, nil
}

func (g *SQLGraph) Health(ctx context.Context) store.Health {
	if err := g.db.PingContext(ctx); err != nil {
		return store.Unavailable
	}
	return store.Available
}

// UpsertEdge replaces any existing (subject, predicate, object) row,
// per spec §3's "most-recent-wins on re-insertion" invariant.
func (g *SQLGraph) UpsertEdge(ctx context.Context, e store.Edge) error {
	_, err := g.db.ExecContext(ctx, `INSERT INTO graph_edges
		(subject, predicate, object, source_memory_id, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject, predicate, object) DO UPDATE SET
			source_memory_id = excluded.source_memory_id,
			confidence = excluded.confidence,
			created_at = excluded.created_at`,
		e.Subject, e.Predicate, e.Object, e.SourceMemoryID, e.Confidence, e.CreatedAt)
	return err
}

// DeleteEdgesFrom removes every edge whose source_memory_id matches,
// used by the C4 forget() contract's archival-graph deletion step.
func (g *SQLGraph) DeleteEdgesFrom(ctx context.Context, sourceMemoryID string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE source_memory_id = ?`, sourceMemoryID)
	return err
}

// Traverse performs a breadth-first expansion from seedEntities, up to
// maxHops edges away, returning every edge encountered.
func (g *SQLGraph) Traverse(ctx context.Context, seedEntities []string, maxHops int) ([]store.Edge, error) {
	if maxHops <= 0 {
		maxHops = 2
	}
	frontier := map[string]bool{}
	for _, e := range seedEntities {
		frontier[e] = true
	}
	seen := map[string]bool{}
	var out []store.Edge

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := map[string]bool{}
		for entity := range frontier {
			edges, err := g.edgesTouching(ctx, entity)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				key := e.Subject + "|" + e.Predicate + "|" + e.Object
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, e)
				if !frontier[e.Object] {
					next[e.Object] = true
				}
				if !frontier[e.Subject] {
					next[e.Subject] = true
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (g *SQLGraph) edgesTouching(ctx context.Context, entity string) ([]store.Edge, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT subject, predicate, object, source_memory_id, confidence, created_at
		FROM graph_edges WHERE subject = ? OR object = ?`, entity, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Edge
	for rows.Next() {
		var e store.Edge
		if err := rows.Scan(&e.Subject, &e.Predicate, &e.Object, &e.SourceMemoryID, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *SQLGraph) Close() error { return nil }
