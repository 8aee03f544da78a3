package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/David2024patton/itak/internal/budget"
	"github.com/David2024patton/itak/internal/hooks"
	"github.com/David2024patton/itak/internal/itakerr"
	"github.com/David2024patton/itak/internal/net/ssrf"
	"github.com/David2024patton/itak/internal/tools/policy"
	"github.com/David2024patton/itak/internal/vault"
)

// SecretVault is the narrow surface the executor needs from C1 to
// just-in-time expand {{name}} placeholders in tool input.
type SecretVault interface {
	Materialize(template string) (string, error)
	Redact(text string) string
}

// ExecutorConfig tunes concurrency, mirroring internal/agent/executor.go's
// ExecutorConfig shape, generalized with the C1/C2/C9 wiring the spec's
// pipeline requires.
type ExecutorConfig struct {
	MaxConcurrency int
}

// DefaultExecutorConfig mirrors the teacher's defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxConcurrency: 5}
}

// Executor runs the C6 execution pipeline: validate, role-check, secret
// expand, pre-hook, sandbox dispatch (by delegating to the tool's own
// Handler, which is expected to sandbox itself for process/filesystem
// side effects), capture+redact, post-hook, result assembly.
type Executor struct {
	registry *Registry
	vault    SecretVault
	hooks    *hooks.Registry
	limiter  *budget.Limiter
	sem      chan struct{}
}

// NewExecutor wires a registry against the C1 vault, C9 hook runner, and
// C2 limiter, using sem to bound concurrent tool executions the way
// internal/agent/executor.go's semaphore channel does.
func NewExecutor(registry *Registry, v SecretVault, h *hooks.Registry, limiter *budget.Limiter, cfg ExecutorConfig) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Executor{
		registry: registry,
		vault:    v,
		hooks:    h,
		limiter:  limiter,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
}

// CallRequest is a single pending tool call.
type CallRequest struct {
	PrincipalID string
	Role        Role
	Policy      *policy.Policy
	ToolName    string
	Input       json.RawMessage
	Strict      bool // strict secret mode: unresolved placeholder -> PolicyViolation
}

// Execute runs the full pipeline for one call.
func (e *Executor) Execute(ctx context.Context, req CallRequest) (*Result, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, itakerr.Wrap(itakerr.Cancelled, ctx.Err(), "", 0)
	}

	start := time.Now()

	reg, ok := e.registry.tools[policy.NormalizeTool(req.ToolName)]
	if !ok {
		return nil, itakerr.New(itakerr.InvalidArgs, "unknown tool: "+req.ToolName, "", 0)
	}

	// 1. Validation.
	if reg.descriptor.InputSchema != nil {
		var decoded any
		if err := json.Unmarshal(req.Input, &decoded); err != nil {
			return nil, itakerr.Wrap(itakerr.InvalidArgs, err, "", 1)
		}
		if err := reg.descriptor.InputSchema.Validate(decoded); err != nil {
			return nil, itakerr.Wrap(itakerr.InvalidArgs, err, "", 1)
		}
	}

	// 2. Permission check.
	if err := e.registry.checkPermission(req.Role, req.Policy, req.ToolName); err != nil {
		return nil, err
	}

	// 3. Secret expansion.
	expandedInput, err := e.expandSecrets(req.Input, req.Strict)
	if err != nil {
		return nil, err
	}

	// 4. Pre-hook.
	if e.hooks != nil {
		event := &hooks.Event{
			Type:      hooks.EventType(hooks.PointToolExecuteBefore),
			Timestamp: time.Now(),
			Context:   map[string]any{"tool": req.ToolName, "principal_id": req.PrincipalID},
		}
		if err := e.hooks.Trigger(ctx, event); err != nil {
			return nil, itakerr.Wrap(itakerr.InternalInvariant, err, "", 4)
		}
	}

	// 5-6. Sandbox dispatch + capture. Network-originating tools must
	// pass the SSRF guard before dispatch; the tool's own Handler is
	// responsible for subprocess/container isolation (timeout, fresh
	// workdir, filesystem scope) since those vary per tool family.
	if reg.descriptor.SideEffectClass == SideEffectNetwork {
		if err := e.checkNetworkTarget(reg.descriptor, expandedInput); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if reg.descriptor.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, reg.descriptor.Timeout)
		defer cancel()
	}

	result, callErr := reg.handler(callCtx, expandedInput)
	if callErr != nil {
		return nil, itakerr.Wrap(itakerr.ProviderNonTransient, callErr, "", 6)
	}
	if result == nil {
		result = &Result{OK: true}
	}
	if e.vault != nil {
		result.Content = e.vault.Redact(result.Content)
	}
	result.Duration = time.Since(start)

	// 7. Post-hook.
	if e.hooks != nil {
		event := &hooks.Event{
			Type:      hooks.EventType(hooks.PointToolExecuteAfter),
			Timestamp: time.Now(),
			Context:   map[string]any{"tool": req.ToolName, "principal_id": req.PrincipalID, "ok": result.OK},
		}
		if err := e.hooks.Trigger(ctx, event); err != nil {
			return nil, itakerr.Wrap(itakerr.InternalInvariant, err, "", 7)
		}
	}

	// 8. Result assembly already performed by building Result above.
	return result, nil
}

func (e *Executor) expandSecrets(input json.RawMessage, strict bool) (json.RawMessage, error) {
	if e.vault == nil || !vault.HasUnresolvedPlaceholder(string(input)) {
		return input, nil
	}
	expanded, err := e.vault.Materialize(string(input))
	if err != nil {
		if strict {
			return nil, itakerr.Wrap(itakerr.PolicyViolation, err, "", 3)
		}
		return nil, itakerr.Wrap(itakerr.MissingSecret, err, "", 3)
	}
	return json.RawMessage(expanded), nil
}

// networkTarget is the minimal shape a network-tool's input must expose
// for the SSRF guard to inspect — tools parse their own full schema but
// always surface a "url" or "host" field for this check.
type networkTarget struct {
	URL  string `json:"url"`
	Host string `json:"host"`
}

func (e *Executor) checkNetworkTarget(d Descriptor, input json.RawMessage) error {
	var t networkTarget
	if err := json.Unmarshal(input, &t); err != nil {
		return nil // tool input doesn't carry a url/host field; nothing to check
	}
	host := t.Host
	if host == "" && t.URL == "" {
		return nil
	}
	if host == "" {
		host = extractHost(t.URL)
	}
	if host == "" {
		return nil
	}

	for _, allowed := range d.AllowedHosts {
		if allowed == host {
			return nil
		}
	}

	if err := ssrf.ValidatePublicHostname(host); err != nil {
		return itakerr.Wrap(itakerr.PolicyViolation, fmt.Errorf("ssrf guard: %w", err), "", 5)
	}
	return nil
}

func extractHost(rawURL string) string {
	for i := 0; i < len(rawURL); i++ {
		if rawURL[i] == '/' && i+1 < len(rawURL) && rawURL[i+1] == '/' {
			rest := rawURL[i+2:]
			for j := 0; j < len(rest); j++ {
				switch rest[j] {
				case '/', ':', '?':
					return rest[:j]
				}
			}
			return rest
		}
	}
	return ""
}
