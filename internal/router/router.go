// Package router implements the C5 Model Router: role-based ordered
// fallback dispatch across LLM provider bindings, reserving cost against
// the C2 rate/cost limiter before each attempt and rolling back on
// transient provider failure.
//
// It generalizes internal/agent/routing.Router's single-list rule-match
// dispatch (and internal/agent/failover.go's transient/non-transient
// error classification) into the spec's per-role ordered fallback list
// with budget-gated reservation at every hop.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/David2024patton/itak/internal/agent"
	"github.com/David2024patton/itak/internal/budget"
	"github.com/David2024patton/itak/internal/itakerr"
)

// Role is one of the four routing roles the spec names.
type Role string

const (
	RoleChat      Role = "chat"
	RoleUtility   Role = "utility"
	RoleVision    Role = "vision"
	RoleEmbedding Role = "embedding"
)

// Binding is one entry in a role's ordered fallback list.
type Binding struct {
	Provider        string
	Model           string
	ContextWindow   int
	HistoryFraction float64
	VisionCapable   bool
	RatePolicy      string
	ExtraParams     map[string]any
}

// Tokenizer estimates prompt/completion token counts for a model. If a
// model has no registered tokenizer, Router falls back to character/4
// and marks the estimate approximate.
type Tokenizer interface {
	CountTokens(model, text string) (int, bool)
}

// Config wires per-role fallback lists and the provider set they draw
// from.
type Config struct {
	Roles     map[Role][]Binding
	Providers map[string]agent.LLMProvider
	Tokenizer Tokenizer

	// FailureCooldown is how long a binding is skipped after a transient
	// failure, mirroring internal/agent/routing.Router's unhealthy map.
	FailureCooldown time.Duration
}

// Router dispatches completion requests to the first healthy, affordable
// binding in a role's fallback list.
type Router struct {
	roles     map[Role][]Binding
	providers map[string]agent.LLMProvider
	tokenizer Tokenizer
	limiter   *budget.Limiter
	cooldown  time.Duration
	health    *healthState
}

// New builds a Router bound to limiter for cost reservation.
func New(cfg Config, limiter *budget.Limiter) *Router {
	return &Router{
		roles:     cfg.Roles,
		providers: cfg.Providers,
		tokenizer: cfg.Tokenizer,
		limiter:   limiter,
		cooldown:  cfg.FailureCooldown,
		health:    &healthState{unhealthy: make(map[string]time.Time)},
	}
}

// Outcome carries the stream and the binding that produced it, so
// callers can log/attribute which provider/model served the request.
type Outcome struct {
	Stream  <-chan *agent.CompletionChunk
	Binding Binding
}

// Dispatch implements the spec §4.5 algorithm for role, estimating cost
// per binding, reserving against the limiter, calling the provider, and
// falling back to the next binding on a transient failure. A non-
// transient failure short-circuits and propagates immediately.
func (r *Router) Dispatch(ctx context.Context, role Role, principalID string, req *agent.CompletionRequest) (*Outcome, error) {
	bindings := r.roles[role]
	if len(bindings) == 0 {
		return nil, itakerr.New(itakerr.InvalidArgs, "no fallback bindings configured for role "+string(role), "", 0)
	}

	var lastTransient error
	for _, b := range bindings {
		bindingKey := strings.ToLower(b.Provider) + ":" + b.Model
		if !r.health.isHealthy(bindingKey, r.cooldown) {
			continue
		}

		provider, ok := r.providers[strings.ToLower(b.Provider)]
		if !ok || provider == nil {
			continue
		}

		promptTokens := r.estimateTokens(b.Model, promptText(req))
		expectedCompletion := req.MaxTokens
		if expectedCompletion <= 0 {
			expectedCompletion = 1024
		}
		costEstimate := float64(promptTokens + expectedCompletion)

		tok, err := r.limiter.Reserve(principalID, string(role), costEstimate, false)
		if err != nil {
			// Lockout or hard-budget denial stops the whole dispatch per
			// spec §4.5 step 2b, not just this binding.
			return nil, itakerr.Wrap(itakerr.BudgetExceeded, err, "", 0)
		}

		copyReq := *req
		if copyReq.Model == "" {
			copyReq.Model = b.Model
		}

		stream, err := provider.Complete(ctx, &copyReq)
		if err != nil {
			class := classify(err)
			if class == itakerr.ProviderTransient || class == itakerr.RateLimited || class == itakerr.Timeout {
				r.limiter.Rollback(tok)
				r.health.markUnhealthy(bindingKey, r.cooldown)
				lastTransient = err
				continue
			}
			r.limiter.Rollback(tok)
			return nil, itakerr.Wrap(class, err, "", 0)
		}

		actualStream, usage := r.meterStream(stream)
		go func() {
			u := <-usage
			r.limiter.Commit(tok, float64(u.InputTokens+u.OutputTokens))
		}()

		return &Outcome{Stream: actualStream, Binding: b}, nil
	}

	if lastTransient != nil {
		return nil, itakerr.Wrap(itakerr.ProviderTransient, errExhausted(lastTransient), "", 0)
	}
	return nil, itakerr.New(itakerr.ProviderNonTransient, "no provider available for role "+string(role), "", 0)
}

type usageTotals struct {
	InputTokens  int
	OutputTokens int
}

// meterStream relays chunks to a fresh channel in provider-emitted order
// (spec §4.5's single-call ordering guarantee) while accumulating actual
// token usage for the deferred Commit call.
func (r *Router) meterStream(in <-chan *agent.CompletionChunk) (<-chan *agent.CompletionChunk, <-chan usageTotals) {
	out := make(chan *agent.CompletionChunk)
	usage := make(chan usageTotals, 1)
	go func() {
		defer close(out)
		var totals usageTotals
		for chunk := range in {
			if chunk.InputTokens > 0 {
				totals.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				totals.OutputTokens = chunk.OutputTokens
			}
			out <- chunk
		}
		usage <- totals
		close(usage)
	}()
	return out, usage
}

func (r *Router) estimateTokens(model, text string) int {
	if r.tokenizer != nil {
		if n, exact := r.tokenizer.CountTokens(model, text); exact {
			return n
		}
	}
	return len(text) / 4
}

func promptText(req *agent.CompletionRequest) string {
	var sb strings.Builder
	sb.WriteString(req.System)
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func errExhausted(last error) error {
	return errors.New("router: all fallback bindings exhausted: " + last.Error())
}

// classify mirrors internal/agent/failover.go's classifyProviderError,
// mapped onto the shared itakerr taxonomy so C5, C6, and C7 share one
// vocabulary of retriable vs. fatal error categories.
func classify(err error) itakerr.Category {
	if err == nil {
		return ""
	}
	var itErr *itakerr.Error
	if errors.As(err, &itErr) {
		return itErr.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), errors.Is(err, context.DeadlineExceeded):
		return itakerr.Timeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return itakerr.RateLimited
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "server error"):
		return itakerr.ProviderTransient
	case errors.Is(err, context.Canceled):
		return itakerr.Cancelled
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "content filter"), strings.Contains(msg, "schema"):
		return itakerr.ProviderNonTransient
	default:
		return itakerr.ProviderNonTransient
	}
}

// healthState tracks which bindings have recently failed, mirroring
// routing.Router's cooldown map so repeated dispatch doesn't keep
// retrying a provider mid-outage within the same process lifetime.
type healthState struct {
	mu        sync.Mutex
	unhealthy map[string]time.Time
}

func (h *healthState) isHealthy(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	until, ok := h.unhealthy[key]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		delete(h.unhealthy, key)
		return true
	}
	return false
}

func (h *healthState) markUnhealthy(key string, cooldown time.Duration) {
	if cooldown <= 0 {
		return
	}
	h.mu.Lock()
	h.unhealthy[key] = time.Now().Add(cooldown)
	h.mu.Unlock()
}
