// Package vectoradapter bridges internal/memory/backend.Backend (the
// teacher's pluggable sqlite-vec/pgvector/lancedb vector store) to the
// C3 store.Vector contract, so the memory fabric can address any of the
// three backends uniformly alongside the relational and graph adapters.
package vectoradapter

import (
	"context"

	"github.com/David2024patton/itak/internal/memory/backend"
	"github.com/David2024patton/itak/internal/store"
	"github.com/David2024patton/itak/pkg/models"
)

// Adapter implements store.Vector over an existing backend.Backend.
type Adapter struct {
	backend backend.Backend
}

// New wraps b as a store.Vector.
func New(b backend.Backend) *Adapter {
	return &Adapter{backend: b}
}

func (a *Adapter) Health(ctx context.Context) store.Health {
	if _, err := a.backend.Count(ctx, models.ScopeGlobal, ""); err != nil {
		return store.Degraded
	}
	return store.Available
}

func (a *Adapter) Upsert(ctx context.Context, records []store.VectorRecord) error {
	entries := make([]*models.MemoryEntry, 0, len(records))
	for _, r := range records {
		entry := &models.MemoryEntry{
			ID:        r.ID,
			Embedding: r.Vector,
		}
		if content, ok := r.Payload["content"].(string); ok {
			entry.Content = content
		}
		if principalID, ok := r.Payload["agent_id"].(string); ok {
			entry.AgentID = principalID
		}
		entries = append(entries, entry)
	}
	return a.backend.Index(ctx, entries)
}

func (a *Adapter) Delete(ctx context.Context, ids []string) error {
	return a.backend.Delete(ctx, ids)
}

func (a *Adapter) TopK(ctx context.Context, query []float32, k int, filter store.VectorFilter) ([]store.VectorMatch, error) {
	results, err := a.backend.Search(ctx, query, &backend.SearchOptions{
		Limit:      k,
		SearchMode: backend.SearchModeVector,
	})
	if err != nil {
		return nil, err
	}

	out := make([]store.VectorMatch, 0, len(results))
	for _, r := range results {
		payload := map[string]any{
			"content":  r.Entry.Content,
			"agent_id": r.Entry.AgentID,
		}
		if filter != nil && !filter(payload) {
			continue
		}
		out = append(out, store.VectorMatch{ID: r.Entry.ID, Score: r.Score, Payload: payload})
	}
	return out, nil
}

func (a *Adapter) Close() error {
	return a.backend.Close()
}
