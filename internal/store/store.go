// Package store defines the abstract Store Adapters (C3): uniform
// contracts over relational, graph, and vector backends, each reporting
// its own health independently so the memory fabric (internal/memory)
// can keep serving reads from whichever subset remains available.
//
// The vector contract mirrors internal/memory/backend.Backend's shape
// directly; the relational and graph contracts are new, generalized
// from the same package's SearchOptions/SearchMode idiom and from
// internal/multiagent.BuildDependencyGraph's traversal style
// respectively.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Relational.Get when no row matches id.
var ErrNotFound = errors.New("store: not found")

// Health is the availability state an adapter reports.
type Health string

const (
	Available   Health = "available"
	Degraded    Health = "degraded"
	Unavailable Health = "unavailable"
)

// Row is a single relational row backing a MemoryEntry.
type Row struct {
	ID         string
	PrincipalID string
	Tier       string
	Content    string
	Tags       []string
	Priority   string
	SourceSession string
	CreatedAt  time.Time
	LastAccessed time.Time
	AccessCount int
}

// Relational is the C3 relational store contract: keyed CRUD on rows,
// transactional batch writes, full-text search over content, and only
// ever parameterized queries (never string concatenation).
type Relational interface {
	Health(ctx context.Context) Health

	Get(ctx context.Context, id string) (*Row, error)
	Put(ctx context.Context, row *Row) error
	Delete(ctx context.Context, id string) error

	// BatchPut writes all rows transactionally: either all rows commit
	// or none do.
	BatchPut(ctx context.Context, rows []*Row) error

	// SearchFullText runs a BM25-ranked full text search over content,
	// scoped to principalID, returning up to limit rows with scores.
	SearchFullText(ctx context.Context, principalID, query string, limit int) ([]ScoredRow, error)

	Close() error
}

// ScoredRow pairs a relational row with a BM25 relevance score.
type ScoredRow struct {
	Row   *Row
	Score float32
}

// Edge is a typed graph relation: (subject, predicate, object), unique
// with most-recent-wins on re-insertion (spec §3 GraphRelation invariant).
type Edge struct {
	Subject    string
	Predicate  string
	Object     string
	SourceMemoryID string
	Confidence float32
	CreatedAt  time.Time
}

// Graph is the C3 graph store contract: upsert nodes/edges, traversal
// bounded by a maximum hop count, retrieval by entity set.
type Graph interface {
	Health(ctx context.Context) Health

	UpsertEdge(ctx context.Context, e Edge) error
	DeleteEdgesFrom(ctx context.Context, sourceMemoryID string) error

	// Traverse returns edges reachable from seedEntities within maxHops.
	Traverse(ctx context.Context, seedEntities []string, maxHops int) ([]Edge, error)

	Close() error
}

// VectorRecord is a single {id, vector, payload} row in the vector store.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// VectorMatch is a single nearest-neighbor result with its similarity
// score (cosine, normalized to [0,1]).
type VectorMatch struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorFilter restricts candidate matches prior to scoring.
type VectorFilter func(payload map[string]any) bool

// Vector is the C3 vector store contract: upsert, top-k nearest with a
// cosine metric and an optional filter predicate. Hybrid scoring that
// combines this with relational BM25 is computed by the memory fabric
// (C4), not here, per spec §4.3.
type Vector interface {
	Health(ctx context.Context) Health

	Upsert(ctx context.Context, records []VectorRecord) error
	Delete(ctx context.Context, ids []string) error

	// TopK returns up to k nearest records to query by cosine similarity,
	// restricted to records for which filter(payload) is true (if filter
	// is non-nil).
	TopK(ctx context.Context, query []float32, k int, filter VectorFilter) ([]VectorMatch, error)

	Close() error
}
