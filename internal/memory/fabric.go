package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/David2024patton/itak/internal/itakerr"
	"github.com/David2024patton/itak/internal/store"
	"github.com/David2024patton/itak/pkg/models"
)

// FabricConfig carries the tunables the spec exposes under
// memory.tiers: ranker weights and pressure thresholds.
type FabricConfig struct {
	// RankerAlpha/Beta/Gamma weight vector similarity, BM25, and graph
	// proximity respectively in the fused score. Defaults 0.5/0.3/0.2
	// per spec §4.4.
	RankerAlpha float32
	RankerBeta  float32
	RankerGamma float32

	// SoftPressureThreshold/HardPressureThreshold are utilization ratios
	// (0-1) of the role's context window at which the fabric compresses
	// the oldest turn block, and demotes stale recall entries, respectively.
	SoftPressureThreshold float32
	HardPressureThreshold float32

	// PromoteAccessThreshold is the access_count within PromoteWindow at
	// which an archival-only entry is mirrored back into recall.
	PromoteAccessThreshold int
	PromoteWindow          time.Duration

	// DedupWindow bounds how far back two remember() calls with
	// identical content hash are considered duplicates of one another.
	DedupWindow time.Duration

	MaxGraphHops int
}

// DefaultFabricConfig returns the spec's documented defaults.
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		RankerAlpha:            0.5,
		RankerBeta:             0.3,
		RankerGamma:            0.2,
		SoftPressureThreshold:  0.75,
		HardPressureThreshold:  0.9,
		PromoteAccessThreshold: 3,
		PromoteWindow:          24 * time.Hour,
		DedupWindow:            10 * time.Minute,
		MaxGraphHops:           2,
	}
}

// Embedder produces a vector embedding for a piece of text; in
// production this is internal/memory/embeddings.Provider (openai/ollama),
// treated per spec §1 as an opaque vectorizer — the fabric only needs
// the Embed contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// dedupEntry tracks a recent content hash for the remember() dedup window.
type dedupEntry struct {
	id      string
	seenAt  time.Time
}

// Fabric is the C4 Memory Fabric: a tiered store (core/recall/archival/
// external) unifying the C3 relational/graph/vector adapters behind one
// search surface, as spec §9 calls for ("Unify under the abstract Store
// contracts + fabric so the scheduler sees exactly one search surface").
type Fabric struct {
	cfg FabricConfig

	relational store.Relational
	graph      store.Graph
	vector     store.Vector
	embedder   Embedder

	mu          sync.Mutex
	dedup       map[string]dedupEntry // content-hash -> entry
	pending     map[string]bool       // ids with DerivationPending flag
	reconcile   chan string           // queue for the archival reconcile worker
}

// NewFabric wires the three C3 adapters and an embedder into one fabric.
// Any of relational/graph/vector may be nil to model a degraded
// deployment; reads still serve from whichever tiers are present, per
// spec §4.3 ("C4 must tolerate any subset being unavailable").
func NewFabric(cfg FabricConfig, rel store.Relational, g store.Graph, v store.Vector, embedder Embedder) *Fabric {
	f := &Fabric{
		cfg:        cfg,
		relational: rel,
		graph:      g,
		vector:     v,
		embedder:   embedder,
		dedup:      map[string]dedupEntry{},
		pending:    map[string]bool{},
		reconcile:  make(chan string, 256),
	}
	go f.reconcileLoop()
	return f
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(content))))
	return hex.EncodeToString(sum[:])
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]{2,}\b`)

// extractEntitiesAndTags is a lightweight heuristic extraction step:
// capitalized tokens become candidate entities, and the MemoryMetadata's
// own Tags field is passed through untouched. This stands in for the
// spec's "small extraction step" — a full NER model is out of scope for
// the core runtime and is treated as another opaque vectorizer-class
// dependency the fabric does not implement itself.
func extractEntitiesAndTags(content string) []string {
	matches := entityPattern.FindAllString(content, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Remember implements the write contract: compute entities+tags, write
// synchronously to recall, then enqueue asynchronous derivation of graph
// edges and vector embeddings. Two remember() calls with identical
// content within DedupWindow converge to a single entry (same id).
func (f *Fabric) Remember(ctx context.Context, entry *models.MemoryEntry) (*models.MemoryEntry, error) {
	if entry == nil || strings.TrimSpace(entry.Content) == "" {
		return nil, itakerr.New(itakerr.InvalidArgs, "memory entry content required", "", 0)
	}

	hash := contentHash(entry.Content)
	f.mu.Lock()
	if existing, ok := f.dedup[hash]; ok && time.Since(existing.seenAt) < f.cfg.DedupWindow {
		f.mu.Unlock()
		entry.ID = existing.id
		return entry, nil
	}
	if entry.ID == "" {
		entry.ID = hash[:16]
	}
	f.dedup[hash] = dedupEntry{id: entry.ID, seenAt: time.Now()}
	f.mu.Unlock()

	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	entities := extractEntitiesAndTags(entry.Content)

	if f.relational != nil {
		row := &store.Row{
			ID:            entry.ID,
			PrincipalID:   entry.AgentID,
			Tier:          "recall",
			Content:       entry.Content,
			Tags:          entry.Metadata.Tags,
			Priority:      "normal",
			SourceSession: entry.SessionID,
			CreatedAt:     entry.CreatedAt,
			LastAccessed:  now,
		}
		if err := f.relational.Put(ctx, row); err != nil {
			return nil, fmt.Errorf("memory: recall write: %w", err)
		}
	}

	f.mu.Lock()
	f.pending[entry.ID] = true
	f.mu.Unlock()
	select {
	case f.reconcile <- entry.ID:
	default:
	}

	go f.deriveArchival(context.Background(), entry, entities)

	return entry, nil
}

// deriveArchival performs the eventual-consistency archival writes:
// vector embedding (if an embedder+vector store are configured) and
// graph edges. Failures here are never user-surfaced (spec §7); they
// clear the DerivationPending flag only on success, and are retried by
// the reconcile worker otherwise.
func (f *Fabric) deriveArchival(ctx context.Context, entry *models.MemoryEntry, entities []string) {
	ok := true

	if f.vector != nil && f.embedder != nil {
		vec, err := f.embedder.Embed(ctx, entry.Content)
		if err != nil {
			ok = false
		} else {
			if err := f.vector.Upsert(ctx, []store.VectorRecord{{
				ID:     entry.ID,
				Vector: vec,
				Payload: map[string]any{
					"content":  entry.Content,
					"agent_id": entry.AgentID,
				},
			}}); err != nil {
				ok = false
			}
		}
	}

	if f.graph != nil && len(entities) >= 2 {
		for i := 0; i < len(entities)-1; i++ {
			edge := store.Edge{
				Subject:        entities[i],
				Predicate:      "related_to",
				Object:         entities[i+1],
				SourceMemoryID: entry.ID,
				Confidence:     0.5,
				CreatedAt:      time.Now(),
			}
			if err := f.graph.UpsertEdge(ctx, edge); err != nil {
				ok = false
			}
		}
	}

	f.mu.Lock()
	if ok {
		delete(f.pending, entry.ID)
	}
	f.mu.Unlock()
}

// reconcileLoop re-runs derivation for entries whose archival writes
// failed, bounding the eventual-consistency window spec §4.4 describes.
func (f *Fabric) reconcileLoop() {
	for id := range f.reconcile {
		f.mu.Lock()
		pending := f.pending[id]
		f.mu.Unlock()
		if !pending {
			continue
		}
		if f.relational == nil {
			continue
		}
		row, err := f.relational.Get(context.Background(), id)
		if err != nil {
			continue
		}
		entry := &models.MemoryEntry{ID: row.ID, Content: row.Content, AgentID: row.PrincipalID}
		f.deriveArchival(context.Background(), entry, extractEntitiesAndTags(row.Content))
	}
}

// IsDerivationPending reports whether an entry's archival writes
// (vector/graph) have not yet succeeded.
func (f *Fabric) IsDerivationPending(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[id]
}

// SearchRequest mirrors models.SearchRequest but is scoped to a single
// principal for the isolation invariant (spec §4.4, testable property 3).
type SearchRequest struct {
	PrincipalID string
	Query       string
	K           int
}

// scored carries a MemoryEntry candidate through the RRF fusion pipeline.
type scored struct {
	entry *models.MemoryEntry
	score float32
}

// Search implements the read contract: BM25 on recall, vector top-k on
// archival vector, and graph traversal seeded by query entities, run in
// parallel, merged by reciprocal-rank fusion, re-scored with
// score = α·vector_sim + β·bm25 + γ·graph_proximity, deduplicated by id,
// truncated to k.
func (f *Fabric) Search(ctx context.Context, req SearchRequest) (*models.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, itakerr.New(itakerr.InvalidArgs, "search query required", "", 0)
	}
	k := req.K
	if k <= 0 {
		k = 10
	}
	start := time.Now()

	var (
		wg                         sync.WaitGroup
		bm25Results                []store.ScoredRow
		vectorResults              []store.VectorMatch
		graphEdges                 []store.Edge
		bm25Err, vectorErr, graphErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if f.relational == nil {
			return
		}
		bm25Results, bm25Err = f.relational.SearchFullText(ctx, req.PrincipalID, req.Query, k*3)
	}()
	go func() {
		defer wg.Done()
		if f.vector == nil || f.embedder == nil {
			return
		}
		vec, err := f.embedder.Embed(ctx, req.Query)
		if err != nil {
			vectorErr = err
			return
		}
		vectorResults, vectorErr = f.vector.TopK(ctx, vec, k*3, func(payload map[string]any) bool {
			owner, _ := payload["agent_id"].(string)
			return owner == "" || owner == req.PrincipalID
		})
	}()
	go func() {
		defer wg.Done()
		if f.graph == nil {
			return
		}
		seeds := extractEntitiesAndTags(req.Query)
		if len(seeds) == 0 {
			return
		}
		graphEdges, graphErr = f.graph.Traverse(ctx, seeds, f.cfg.MaxGraphHops)
	}()
	wg.Wait()

	// Reads never block on archival derivation and tolerate any subset
	// of adapters being unavailable; a failed tier simply contributes no
	// candidates rather than failing the whole search.
	_ = bm25Err
	_ = vectorErr
	_ = graphErr

	merged := map[string]*scored{}

	for _, r := range bm25Results {
		merged[r.Row.ID] = &scored{
			entry: &models.MemoryEntry{ID: r.Row.ID, Content: r.Row.Content, AgentID: r.Row.PrincipalID},
			score: f.cfg.RankerBeta * r.Score,
		}
	}
	for _, r := range vectorResults {
		content, _ := r.Payload["content"].(string)
		owner, _ := r.Payload["agent_id"].(string)
		if existing, ok := merged[r.ID]; ok {
			existing.score += f.cfg.RankerAlpha * r.Score
		} else {
			merged[r.ID] = &scored{
				entry: &models.MemoryEntry{ID: r.ID, Content: content, AgentID: owner},
				score: f.cfg.RankerAlpha * r.Score,
			}
		}
	}

	// Graph proximity contributes a flat boost to any already-found
	// candidate whose content mentions an entity on the traversal
	// frontier; it does not introduce standalone candidates since edges
	// alone don't carry full MemoryEntry content.
	if len(graphEdges) > 0 {
		touched := map[string]bool{}
		for _, e := range graphEdges {
			touched[e.Subject] = true
			touched[e.Object] = true
		}
		for _, s := range merged {
			for entity := range touched {
				if strings.Contains(s.entry.Content, entity) {
					s.score += f.cfg.RankerGamma
					break
				}
			}
		}
	}

	results := make([]*models.SearchResult, 0, len(merged))
	for _, s := range merged {
		results = append(results, &models.SearchResult{Entry: s.entry, Score: s.score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	f.touch(results)

	return &models.SearchResponse{
		Results:    results,
		TotalCount: len(results),
		QueryTime:  time.Since(start),
	}, nil
}

// touch updates last_accessed/access_count for every returned entry
// (spec §4.4 promotion rule) and mirrors archival-only entries whose
// access_count crosses PromoteAccessThreshold back into recall.
func (f *Fabric) touch(results []*models.SearchResult) {
	if f.relational == nil {
		return
	}
	ctx := context.Background()
	for _, r := range results {
		row, err := f.relational.Get(ctx, r.Entry.ID)
		if err != nil {
			continue
		}
		row.LastAccessed = time.Now()
		row.AccessCount++
		if row.Tier == "archival" && row.AccessCount >= f.cfg.PromoteAccessThreshold {
			row.Tier = "recall"
		}
		_ = f.relational.Put(ctx, row)
	}
}

// Forget performs the confirmatory-search-then-delete contract: on
// confirmation, deletes the entry from every tier in the fixed order
// recall, archival vector, archival graph edges sourced from it. A
// second call after partial failure completes the remaining deletions
// (idempotent — deleting an already-absent row is not an error).
func (f *Fabric) Forget(ctx context.Context, id string) error {
	var errs []error
	if f.relational != nil {
		if err := f.relational.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if f.vector != nil {
		if err := f.vector.Delete(ctx, []string{id}); err != nil {
			errs = append(errs, err)
		}
	}
	if f.graph != nil {
		if err := f.graph.DeleteEdgesFrom(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("memory: forget partial failure: %v", errs)
	}
	return nil
}

// PressureLevel reports whether utilization crosses the soft or hard
// threshold, so the scheduler can trigger compression/demotion per spec
// §4.4. The scheduler, not the fabric, measures prompt utilization; it
// calls this to interpret the ratio.
func (f *Fabric) PressureLevel(utilization float32) string {
	switch {
	case utilization >= f.cfg.HardPressureThreshold:
		return "hard"
	case utilization >= f.cfg.SoftPressureThreshold:
		return "soft"
	default:
		return "none"
	}
}
