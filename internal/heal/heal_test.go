package heal

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	solutions map[string]Strategy
	saved     []Strategy
}

func newFakeStore() *fakeStore { return &fakeStore{solutions: map[string]Strategy{}} }

func (f *fakeStore) FindSolution(ctx context.Context, signature string) (*Strategy, bool) {
	s, ok := f.solutions[signature]
	if !ok {
		return nil, false
	}
	return &s, true
}

func (f *fakeStore) SaveSolution(ctx context.Context, signature string, strategy Strategy) error {
	f.solutions[signature] = strategy
	f.saved = append(f.saved, strategy)
	return nil
}

func TestHandleSecurityIsFatal(t *testing.T) {
	e := New(nil, nil, nil, DefaultBudgets())
	d := e.Handle(context.Background(), "s1", errors.New("ssrf guard: blocked hostname"))
	if d.Kind != "fatal" {
		t.Fatalf("expected fatal for security error, got %s", d.Kind)
	}
}

func TestHandleFindsPriorSolution(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil, nil, DefaultBudgets())
	err := errors.New("command not found: ffmpeg")

	sig := Signature(Classify(err), err)
	store.solutions[sig] = Strategy{Description: "install ffmpeg"}

	d := e.Handle(context.Background(), "s1", err)
	if d.Kind != "retry" {
		t.Fatalf("expected retry, got %s: %v", d.Kind, d.Err)
	}
	if d.Strategy == nil || d.Strategy.Source != "memory" {
		t.Fatalf("expected strategy sourced from memory, got %+v", d.Strategy)
	}
}

func TestHandleSurfacesAfterPerErrorBudget(t *testing.T) {
	store := newFakeStore()
	err := errors.New("command not found: ffmpeg")
	sig := Signature(Classify(err), err)
	store.solutions[sig] = Strategy{Description: "install ffmpeg"}

	budgets := DefaultBudgets()
	budgets.MaxRetriesPerError = 2
	e := New(store, nil, nil, budgets)

	var last Decision
	for i := 0; i < 3; i++ {
		last = e.Handle(context.Background(), "s1", err)
	}
	if last.Kind != "surface" {
		t.Fatalf("expected surface after exceeding per-error budget, got %s", last.Kind)
	}
}

func TestHandleResourceSurfacesAfterOneCleanupAttempt(t *testing.T) {
	store := newFakeStore()
	err := errors.New("disk full: cannot write artifact")
	sig := Signature(Classify(err), err)
	store.solutions[sig] = Strategy{Description: "clean temp dir"}
	e := New(store, nil, nil, DefaultBudgets())

	first := e.Handle(context.Background(), "s1", err)
	if first.Kind != "retry" {
		t.Fatalf("expected first resource error attempt to retry (cleanup), got %s", first.Kind)
	}
	second := e.Handle(context.Background(), "s1", err)
	if second.Kind != "surface" {
		t.Fatalf("expected resource error to surface after one cleanup attempt, got %s", second.Kind)
	}
}

func TestHandleSurfacesWithNoStrategySource(t *testing.T) {
	e := New(nil, nil, nil, DefaultBudgets())
	d := e.Handle(context.Background(), "s1", errors.New("unexpected runtime panic"))
	if d.Kind != "surface" {
		t.Fatalf("expected surface when no repair source is configured, got %s", d.Kind)
	}
}

func TestRecordOutcomePersistsOnSuccess(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil, nil, DefaultBudgets())
	err := errors.New("connection refused")
	strategy := Strategy{Description: "switch endpoint"}

	if rErr := e.RecordOutcome(context.Background(), Classify(err), err, strategy, true); rErr != nil {
		t.Fatalf("record outcome: %v", rErr)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected solution to be persisted, got %d saved", len(store.saved))
	}
}
