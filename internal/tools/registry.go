package tools

import (
	"context"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/David2024patton/itak/internal/itakerr"
	"github.com/David2024patton/itak/internal/tools/policy"
)

// Role is the principal role hierarchy the registry gates tools against:
// owner > sudo > user, matching spec Open Question #2's resolution.
type Role int

const (
	RoleUser Role = iota
	RoleSudo
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleSudo:
		return "sudo"
	default:
		return "user"
	}
}

// SideEffectClass describes how a tool call touches the outside world,
// used to decide whether a run requires sandboxing and whether its
// result can be retried blindly by the self-healer.
type SideEffectClass string

const (
	SideEffectNone       SideEffectClass = "none"
	SideEffectFilesystem SideEffectClass = "filesystem"
	SideEffectNetwork    SideEffectClass = "network"
	SideEffectProcess    SideEffectClass = "process"
)

// Descriptor is a registered tool's static shape: {name, description,
// input_schema, required_role, side_effect_class, timeout, cost_class}
// per spec §4.6.
type Descriptor struct {
	Name            string
	Description     string
	UsagePrompt     string
	InputSchema     *jsonschema.Schema
	RequiredRole    Role
	SideEffectClass SideEffectClass
	Timeout         time.Duration
	CostClass       string
	AllowedHosts    []string // network allowlist for SideEffectNetwork tools
}

// Handler executes a tool call after the pipeline's validation, role,
// and secret-expansion steps have all passed.
type Handler func(ctx context.Context, input []byte) (*Result, error)

// Result is the pipeline's final {ok, content, cost, duration, artifacts,
// side_effects} assembly per spec §4.6 step 8.
type Result struct {
	OK          bool
	Content     string
	Cost        float64
	Duration    time.Duration
	Artifacts   []Artifact
	SideEffects []string
}

// Artifact is a file produced by a tool call, referenced by id when its
// content overflows an inline byte cap (e.g. code_exec stdout).
type Artifact struct {
	ID       string
	MimeType string
	Data     []byte
}

type registration struct {
	descriptor Descriptor
	handler    Handler
}

// Registry holds every registered tool and the resolver that decides,
// per call, which subset a principal's role+policy permits — generalized
// from internal/tools/policy.Resolver, adding the role-hierarchy gate
// the teacher's name-based allow/deny lists don't have.
type Registry struct {
	tools    map[string]registration
	resolver *policy.Resolver
}

// NewRegistry builds an empty registry backed by resolver for
// allow/deny/profile evaluation.
func NewRegistry(resolver *policy.Resolver) *Registry {
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	return &Registry{tools: map[string]registration{}, resolver: resolver}
}

// Register adds a tool. Re-registering a name overwrites the prior entry,
// matching the teacher's init-time registration pattern (no runtime
// unregister is needed; only cmd/itak's startup wiring calls this).
func (r *Registry) Register(d Descriptor, h Handler) {
	r.tools[policy.NormalizeTool(d.Name)] = registration{descriptor: d, handler: h}
}

// Get returns a tool's descriptor, if registered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	reg, ok := r.tools[policy.NormalizeTool(name)]
	return reg.descriptor, ok
}

// VisibleTo returns the descriptors a principal with the given role and
// policy may call, per spec §4.6's "scheduler sees only the allowed
// subset" rule.
func (r *Registry) VisibleTo(role Role, p *policy.Policy) []Descriptor {
	var out []Descriptor
	for name, reg := range r.tools {
		if role < reg.descriptor.RequiredRole {
			continue
		}
		if !r.resolver.IsAllowed(p, name) {
			continue
		}
		out = append(out, reg.descriptor)
	}
	return out
}

// checkPermission implements pipeline step 2: principal.role >=
// tool.required_role, then the policy allow/deny resolution.
func (r *Registry) checkPermission(role Role, p *policy.Policy, name string) error {
	reg, ok := r.tools[policy.NormalizeTool(name)]
	if !ok {
		return itakerr.New(itakerr.InvalidArgs, "unknown tool: "+name, "", 0)
	}
	if role < reg.descriptor.RequiredRole {
		return itakerr.New(itakerr.PermissionDenied, "role "+role.String()+" below required role "+reg.descriptor.RequiredRole.String()+" for tool "+name, "", 0)
	}
	if !r.resolver.IsAllowed(p, name) {
		decision := r.resolver.Decide(p, name)
		return itakerr.New(itakerr.PermissionDenied, "tool "+name+" denied: "+decision.Reason, "", 0)
	}
	return nil
}
