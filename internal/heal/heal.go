// Package heal implements the C7 Self-Healing Engine: given an error and
// its call context, classify it, then either retry with an altered
// strategy, surface it to the user, or mark it fatal. Repair strategies
// are sourced from prior memory, a utility-model ranking, or a bounded
// web-research step, in that order, and successful repairs are persisted
// back to memory so future occurrences resolve in O(1).
//
// Grounded on internal/retry/retry.go for the backoff/budget mechanics
// (PermanentError's "do not retry" idiom becomes Fatal here) and
// internal/agent/failover.go for the string-signature error
// classification style.
package heal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/David2024patton/itak/internal/itakerr"
)

// Category is one of the spec's error classification buckets.
type Category string

const (
	CategoryDependency Category = "dependency"
	CategoryNetwork    Category = "network"
	CategoryConfig     Category = "config"
	CategoryRuntime    Category = "runtime"
	CategoryTool       Category = "tool"
	CategoryResource   Category = "resource"
	CategorySecurity   Category = "security"
	CategoryData       Category = "data"
)

// classificationTable maps substrings found in an error's text (or its
// itakerr.Category, when present) to a heal Category. Checked in order;
// first match wins.
var classificationTable = []struct {
	category Category
	match    func(msg string, itCat itakerr.Category) bool
}{
	{CategorySecurity, func(msg string, c itakerr.Category) bool {
		return c == itakerr.PolicyViolation || c == itakerr.PermissionDenied || strings.Contains(msg, "ssrf") || strings.Contains(msg, "forbidden")
	}},
	{CategoryData, func(msg string, c itakerr.Category) bool {
		return strings.Contains(msg, "corrupt") || strings.Contains(msg, "checksum") || strings.Contains(msg, "schema mismatch")
	}},
	{CategoryDependency, func(msg string, c itakerr.Category) bool {
		return strings.Contains(msg, "not found") || strings.Contains(msg, "no such file") || strings.Contains(msg, "module not found") || strings.Contains(msg, "command not found")
	}},
	{CategoryNetwork, func(msg string, c itakerr.Category) bool {
		return c == itakerr.Timeout || c == itakerr.ProviderTransient || c == itakerr.RateLimited || strings.Contains(msg, "connection refused") || strings.Contains(msg, "dns")
	}},
	{CategoryConfig, func(msg string, c itakerr.Category) bool {
		return c == itakerr.MissingSecret || c == itakerr.InvalidArgs || strings.Contains(msg, "missing required") || strings.Contains(msg, "invalid configuration")
	}},
	{CategoryResource, func(msg string, c itakerr.Category) bool {
		return strings.Contains(msg, "out of memory") || strings.Contains(msg, "disk full") || strings.Contains(msg, "too many open files") || strings.Contains(msg, "quota exceeded")
	}},
	{CategoryTool, func(msg string, c itakerr.Category) bool {
		return c == itakerr.ProviderNonTransient
	}},
}

// Classify maps err to a Category; defaults to CategoryRuntime when
// nothing more specific matches.
func Classify(err error) Category {
	msg := strings.ToLower(err.Error())
	itCat := itakerr.CategoryOf(err)
	for _, entry := range classificationTable {
		if entry.match(msg, itCat) {
			return entry.category
		}
	}
	return CategoryRuntime
}

// repairable reports whether the repair loop should even attempt a
// strategy for this category; security/data are immediately fatal.
func (c Category) repairable() bool {
	switch c {
	case CategorySecurity, CategoryData:
		return false
	default:
		return true
	}
}

// Strategy is a candidate fix: a human/utility-model-readable
// description plus the altered parameters to retry with.
type Strategy struct {
	Description string
	Params      map[string]any
	Source      string // "memory" | "utility_model" | "web_research"
}

// Decision is the engine's verdict for one error occurrence.
type Decision struct {
	Kind     string // "retry" | "surface" | "fatal"
	Strategy *Strategy
	Backoff  time.Duration
	Err      error
}

// Signature returns a stable fingerprint of (category, error text),
// used both as the memory-lookup key and the per-error retry budget key.
func Signature(category Category, err error) string {
	sum := sha256.Sum256([]byte(string(category) + "|" + strings.ToLower(err.Error())))
	return hex.EncodeToString(sum[:])[:24]
}

// SolutionStore is the narrow C4 surface the repair loop needs: look up
// a prior solution by signature, and persist a new one after a first
// successful retry (tagged self_heal_solution per spec §4.7 step 4).
type SolutionStore interface {
	FindSolution(ctx context.Context, signature string) (*Strategy, bool)
	SaveSolution(ctx context.Context, signature string, strategy Strategy) error
}

// UtilityRanker asks the utility model for up to 3 ranked candidate
// strategies for an error.
type UtilityRanker interface {
	RankStrategies(ctx context.Context, category Category, err error) ([]Strategy, error)
}

// WebResearcher performs the bounded web-research fallback (C6's
// web_search + browser tools), returning candidate strategies already
// passed through the content filter.
type WebResearcher interface {
	Research(ctx context.Context, category Category, err error) ([]Strategy, error)
}

// Budgets mirrors spec §4.7's retry limits and exponential backoff.
type Budgets struct {
	MaxRetriesPerError   int
	MaxRetriesPerSession int
	Backoff              []time.Duration
}

// DefaultBudgets returns max_retries_per_error=3, max_retries_per_session=10,
// backoff {1s, 5s, 15s}.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxRetriesPerError:   3,
		MaxRetriesPerSession: 10,
		Backoff:              []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
	}
}

type sessionCounters struct {
	total      int
	perError   map[string]int
}

// Engine orchestrates classification, the repair loop, and budget
// tracking per session.
type Engine struct {
	store    SolutionStore
	ranker   UtilityRanker
	research WebResearcher
	budgets  Budgets

	mu       sync.Mutex
	sessions map[string]*sessionCounters
}

// New builds an Engine. store, ranker, and research may each be nil to
// model a degraded deployment: the repair loop simply skips the step
// whose dependency is absent and falls through to the next one.
func New(store SolutionStore, ranker UtilityRanker, research WebResearcher, budgets Budgets) *Engine {
	return &Engine{
		store:    store,
		ranker:   ranker,
		research: research,
		budgets:  budgets,
		sessions: map[string]*sessionCounters{},
	}
}

// Handle classifies err and returns a Decision: Fatal for security/data,
// Surface once a cleanup attempt has run for resource errors or once
// retry budgets are exhausted, otherwise Retry with a sourced Strategy.
func (e *Engine) Handle(ctx context.Context, sessionKey string, err error) Decision {
	category := Classify(err)

	if !category.repairable() {
		return Decision{Kind: "fatal", Err: err}
	}

	counters := e.countersFor(sessionKey)
	sig := Signature(category, err)

	e.mu.Lock()
	counters.total++
	counters.perError[sig]++
	totalExceeded := counters.total > e.budgets.MaxRetriesPerSession
	perErrorExceeded := counters.perError[sig] > e.budgets.MaxRetriesPerError
	attempt := counters.perError[sig]
	e.mu.Unlock()

	if category == CategoryResource {
		// Spec: resource errors get exactly one cleanup attempt, then
		// Surface regardless of remaining budget.
		if attempt > 1 {
			return Decision{Kind: "surface", Err: err}
		}
	}

	if totalExceeded || perErrorExceeded {
		return Decision{Kind: "surface", Err: err}
	}

	strategy := e.findStrategy(ctx, category, sig, err)
	if strategy == nil {
		return Decision{Kind: "surface", Err: err}
	}

	backoff := e.backoffFor(attempt)
	return Decision{Kind: "retry", Strategy: strategy, Backoff: backoff}
}

// RecordOutcome persists a successful repair's strategy keyed by
// signature, per spec §4.7 step 4, so the next occurrence of the same
// (category, error text) resolves via SolutionStore in step 1.
func (e *Engine) RecordOutcome(ctx context.Context, category Category, err error, strategy Strategy, succeeded bool) error {
	if !succeeded || e.store == nil {
		return nil
	}
	return e.store.SaveSolution(ctx, Signature(category, err), strategy)
}

func (e *Engine) countersFor(sessionKey string) *sessionCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.sessions[sessionKey]
	if !ok {
		c = &sessionCounters{perError: map[string]int{}}
		e.sessions[sessionKey] = c
	}
	return c
}

func (e *Engine) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(e.budgets.Backoff) {
		idx = len(e.budgets.Backoff) - 1
	}
	if idx < 0 {
		return 0
	}
	return e.budgets.Backoff[idx]
}

// findStrategy implements the three-step repair-source cascade.
func (e *Engine) findStrategy(ctx context.Context, category Category, sig string, err error) *Strategy {
	if e.store != nil {
		if s, ok := e.store.FindSolution(ctx, sig); ok {
			s.Source = "memory"
			return s
		}
	}

	if e.ranker != nil {
		if candidates, rErr := e.ranker.RankStrategies(ctx, category, err); rErr == nil {
			for i := range candidates {
				if i >= 3 {
					break
				}
				candidates[i].Source = "utility_model"
			}
			if len(candidates) > 0 {
				return &candidates[0]
			}
		}
	}

	if e.research != nil {
		if candidates, rErr := e.research.Research(ctx, category, err); rErr == nil && len(candidates) > 0 {
			candidates[0].Source = "web_research"
			return &candidates[0]
		}
	}

	return nil
}
