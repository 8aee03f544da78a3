package router

import (
	"context"
	"errors"
	"testing"

	"github.com/David2024patton/itak/internal/agent"
	"github.com/David2024patton/itak/internal/budget"
)

type fakeProvider struct {
	name    string
	fail    error
	chunks  []*agent.CompletionChunk
}

func (p *fakeProvider) Name() string          { return p.name }
func (p *fakeProvider) Models() []agent.Model { return nil }
func (p *fakeProvider) SupportsTools() bool   { return false }
func (p *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	ch := make(chan *agent.CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func drain(t *testing.T, stream <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	for c := range stream {
		out = append(out, c)
	}
	return out
}

func TestDispatchFallsBackOnTransientFailure(t *testing.T) {
	limiter := budget.New(budget.DefaultConfig())
	primary := &fakeProvider{name: "primary", fail: errors.New("503 server error")}
	secondary := &fakeProvider{name: "secondary", chunks: []*agent.CompletionChunk{
		{Text: "hi", Done: true, InputTokens: 5, OutputTokens: 2},
	}}

	r := New(Config{
		Roles: map[Role][]Binding{
			RoleChat: {{Provider: "primary", Model: "m1"}, {Provider: "secondary", Model: "m2"}},
		},
		Providers: map[string]agent.LLMProvider{"primary": primary, "secondary": secondary},
	}, limiter)

	out, err := r.Dispatch(context.Background(), RoleChat, "p1", &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Binding.Provider != "secondary" {
		t.Fatalf("expected fallback to secondary, got %s", out.Binding.Provider)
	}
	chunks := drain(t, out.Stream)
	if len(chunks) != 1 || chunks[0].Text != "hi" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestDispatchNonTransientShortCircuits(t *testing.T) {
	limiter := budget.New(budget.DefaultConfig())
	primary := &fakeProvider{name: "primary", fail: errors.New("unauthorized: invalid api key")}
	secondary := &fakeProvider{name: "secondary", chunks: []*agent.CompletionChunk{{Text: "hi", Done: true}}}

	r := New(Config{
		Roles: map[Role][]Binding{
			RoleChat: {{Provider: "primary", Model: "m1"}, {Provider: "secondary", Model: "m2"}},
		},
		Providers: map[string]agent.LLMProvider{"primary": primary, "secondary": secondary},
	}, limiter)

	_, err := r.Dispatch(context.Background(), RoleChat, "p1", &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected non-transient error to short-circuit, got nil")
	}
}

func TestDispatchUnknownRoleIsInvalidArgs(t *testing.T) {
	limiter := budget.New(budget.DefaultConfig())
	r := New(Config{Roles: map[Role][]Binding{}, Providers: map[string]agent.LLMProvider{}}, limiter)

	_, err := r.Dispatch(context.Background(), RoleVision, "p1", &agent.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error for role with no bindings")
	}
}
