package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/David2024patton/itak/internal/itakerr"
	"github.com/David2024patton/itak/internal/tools/policy"
)

type fakeVault struct{ values map[string]string }

func (v *fakeVault) Materialize(template string) (string, error) {
	out := template
	for k, val := range v.values {
		out = replaceAllPlaceholder(out, k, val)
	}
	return out, nil
}

func (v *fakeVault) Redact(text string) string { return text }

func replaceAllPlaceholder(s, key, val string) string {
	placeholder := "{{" + key + "}}"
	for {
		idx := indexOf(s, placeholder)
		if idx < 0 {
			return s
		}
		s = s[:idx] + val + s[idx+len(placeholder):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func mustSchema(t *testing.T, raw string) *jsonschema.Schema {
	t.Helper()
	schema, err := jsonschema.CompileString("schema.json", raw)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

func TestExecutorPermissionDenied(t *testing.T) {
	resolver := policy.NewResolver()
	registry := NewRegistry(resolver)
	registry.Register(Descriptor{
		Name:         "danger",
		RequiredRole: RoleOwner,
	}, func(ctx context.Context, input []byte) (*Result, error) {
		return &Result{OK: true, Content: "ran"}, nil
	})

	exec := NewExecutor(registry, nil, nil, nil, DefaultExecutorConfig())
	_, err := exec.Execute(context.Background(), CallRequest{
		Role:     RoleUser,
		Policy:   policy.NewPolicy(policy.ProfileFull),
		ToolName: "danger",
		Input:    json.RawMessage(`{}`),
	})
	if itakerr.CategoryOf(err) != itakerr.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestExecutorSecretExpansion(t *testing.T) {
	resolver := policy.NewResolver()
	registry := NewRegistry(resolver)
	var seen string
	registry.Register(Descriptor{Name: "echo", RequiredRole: RoleUser}, func(ctx context.Context, input []byte) (*Result, error) {
		seen = string(input)
		return &Result{OK: true}, nil
	})

	v := &fakeVault{values: map[string]string{"api_key": "sk-secret"}}
	exec := NewExecutor(registry, v, nil, nil, DefaultExecutorConfig())
	_, err := exec.Execute(context.Background(), CallRequest{
		Role:     RoleUser,
		Policy:   policy.NewPolicy(policy.ProfileFull),
		ToolName: "echo",
		Input:    json.RawMessage(`{"token": "{{api_key}}"}`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !contains(seen, "sk-secret") {
		t.Fatalf("expected expanded secret in handler input, got %s", seen)
	}
}

func contains(s, sub string) bool { return indexOf(s, sub) >= 0 }

func TestExecutorSchemaValidation(t *testing.T) {
	resolver := policy.NewResolver()
	registry := NewRegistry(resolver)
	schema := mustSchema(t, `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	registry.Register(Descriptor{
		Name:         "greet",
		RequiredRole: RoleUser,
		InputSchema:  schema,
	}, func(ctx context.Context, input []byte) (*Result, error) {
		return &Result{OK: true}, nil
	})

	exec := NewExecutor(registry, nil, nil, nil, DefaultExecutorConfig())
	_, err := exec.Execute(context.Background(), CallRequest{
		Role:     RoleUser,
		Policy:   policy.NewPolicy(policy.ProfileFull),
		ToolName: "greet",
		Input:    json.RawMessage(`{}`),
	})
	if itakerr.CategoryOf(err) != itakerr.InvalidArgs {
		t.Fatalf("expected InvalidArgs for missing required field, got %v", err)
	}
}

func TestExecutorNetworkSSRFBlocksPrivateHost(t *testing.T) {
	resolver := policy.NewResolver()
	registry := NewRegistry(resolver)
	registry.Register(Descriptor{
		Name:            "web_fetch",
		RequiredRole:    RoleUser,
		SideEffectClass: SideEffectNetwork,
	}, func(ctx context.Context, input []byte) (*Result, error) {
		return &Result{OK: true}, nil
	})

	exec := NewExecutor(registry, nil, nil, nil, DefaultExecutorConfig())
	_, err := exec.Execute(context.Background(), CallRequest{
		Role:     RoleUser,
		Policy:   policy.NewPolicy(policy.ProfileFull),
		ToolName: "web_fetch",
		Input:    json.RawMessage(`{"url": "http://169.254.169.254/latest/meta-data"}`),
	})
	if itakerr.CategoryOf(err) != itakerr.PolicyViolation {
		t.Fatalf("expected PolicyViolation for link-local target, got %v", err)
	}
}
