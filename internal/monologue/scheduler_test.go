package monologue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/David2024patton/itak/internal/agent"
	"github.com/David2024patton/itak/internal/budget"
	"github.com/David2024patton/itak/internal/router"
	"github.com/David2024patton/itak/internal/tools"
	"github.com/David2024patton/itak/internal/tools/policy"
	"github.com/David2024patton/itak/pkg/models"
)

func TestParseIntentResponse(t *testing.T) {
	intent, err := parseIntent(`some prose {"kind":"response","response":"hello there"} trailing`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Kind != "response" || intent.Response != "hello there" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestParseIntentTool(t *testing.T) {
	intent, err := parseIntent(`{"kind":"tool","tool":"search","args":{"q":"go"}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Kind != "tool" || intent.ToolName != "search" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestParseIntentMalformed(t *testing.T) {
	if _, err := parseIntent("no json here"); err == nil {
		t.Fatal("expected error for text with no JSON object")
	}
}

func TestParseIntentUnknownKind(t *testing.T) {
	if _, err := parseIntent(`{"kind":"dance"}`); err == nil {
		t.Fatal("expected error for unrecognized intent kind")
	}
}

// scriptedProvider replays one CompletionChunk stream per call, in order.
type scriptedProvider struct {
	replies [][]string
	call    int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	var texts []string
	if p.call < len(p.replies) {
		texts = p.replies[p.call]
	}
	p.call++
	ch := make(chan *agent.CompletionChunk, len(texts))
	for _, text := range texts {
		ch <- &agent.CompletionChunk{Text: text}
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool       { return true }

func newTestRouter(provider agent.LLMProvider) *router.Router {
	return router.New(router.Config{
		Roles: map[router.Role][]router.Binding{
			router.RoleChat: {{Provider: "scripted", Model: "m1"}},
		},
		Providers: map[string]agent.LLMProvider{"scripted": provider},
	}, budget.New(budget.DefaultConfig()))
}

func TestRunReturnsImmediateResponse(t *testing.T) {
	provider := &scriptedProvider{replies: [][]string{{`{"kind":"response","response":"done"}`}}}
	registry := tools.NewRegistry(policy.NewResolver())
	executor := tools.NewExecutor(registry, nil, nil, nil, tools.DefaultExecutorConfig())

	sched := New(Config{
		Router:   newTestRouter(provider),
		Executor: executor,
		Model:    "m1",
	})

	session := &Session{Key: "sess1", PrincipalID: "user1"}
	reply, err := sched.Run(context.Background(), session, &models.Message{Role: models.RoleUser, Content: "hi"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reply != "done" {
		t.Fatalf("expected reply %q, got %q", "done", reply)
	}
}

func TestRunDispatchesToolThenResponds(t *testing.T) {
	provider := &scriptedProvider{replies: [][]string{
		{`{"kind":"tool","tool":"echo","args":{"text":"hi"}}`},
		{`{"kind":"response","response":"tool ran"}`},
	}}
	registry := tools.NewRegistry(policy.NewResolver())
	registry.Register(tools.Descriptor{Name: "echo", RequiredRole: tools.RoleUser}, func(ctx context.Context, input []byte) (*tools.Result, error) {
		return &tools.Result{OK: true, Content: "echoed"}, nil
	})
	executor := tools.NewExecutor(registry, nil, nil, nil, tools.DefaultExecutorConfig())

	sched := New(Config{
		Router:   newTestRouter(provider),
		Executor: executor,
		Model:    "m1",
	})

	session := &Session{Key: "sess2", PrincipalID: "user1"}
	progress := make(chan Step, 16)
	reply, err := sched.Run(context.Background(), session, &models.Message{Role: models.RoleUser, Content: "run echo"}, progress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reply != "tool ran" {
		t.Fatalf("expected reply %q, got %q", "tool ran", reply)
	}

	var sawAwaitingTool bool
	for step := range progress {
		if step.State == StateAwaitingTool {
			sawAwaitingTool = true
		}
	}
	if !sawAwaitingTool {
		t.Fatal("expected a StateAwaitingTool step to be emitted")
	}
}

func TestRunSurfacesAfterRepeatedParseFailures(t *testing.T) {
	provider := &scriptedProvider{replies: [][]string{
		{"not json"}, {"still not json"}, {"nope"},
	}}
	registry := tools.NewRegistry(policy.NewResolver())
	executor := tools.NewExecutor(registry, nil, nil, nil, tools.DefaultExecutorConfig())

	sched := New(Config{
		Router:   newTestRouter(provider),
		Executor: executor,
		Model:    "m1",
	})

	session := &Session{Key: "sess3", PrincipalID: "user1"}
	_, err := sched.Run(context.Background(), session, &models.Message{Role: models.RoleUser, Content: "hi"}, nil)
	if err == nil {
		t.Fatal("expected error after repeated parse failures")
	}
}

func TestRunExhaustsIterationBudget(t *testing.T) {
	replies := make([][]string, 0, MaxIterations)
	for i := 0; i < MaxIterations+1; i++ {
		replies = append(replies, []string{`{"kind":"tool","tool":"noop","args":{}}`})
	}
	provider := &scriptedProvider{replies: replies}
	registry := tools.NewRegistry(policy.NewResolver())
	registry.Register(tools.Descriptor{Name: "noop", RequiredRole: tools.RoleUser}, func(ctx context.Context, input []byte) (*tools.Result, error) {
		return &tools.Result{OK: true}, nil
	})
	executor := tools.NewExecutor(registry, nil, nil, nil, tools.DefaultExecutorConfig())

	sched := New(Config{
		Router:   newTestRouter(provider),
		Executor: executor,
		Model:    "m1",
	})

	session := &Session{Key: "sess4", PrincipalID: "user1"}
	reply, err := sched.Run(context.Background(), session, &models.Message{Role: models.RoleUser, Content: "loop forever"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !json.Valid([]byte(`"` + reply + `"`)) {
		t.Fatalf("expected a plain string reply, got %q", reply)
	}
	if reply == "" {
		t.Fatal("expected a non-empty exhaustion message")
	}
}
