// Package subagent implements the C11 Sub-Agent Coordinator: spawning one
// or more scoped monologues as children of a running one, running them by
// a chosen strategy, and merging their outputs back into a single result.
//
// Grounded on internal/multiagent/swarm.go's Swarm: its dependency-graph
// stage execution, bounded-parallelism semaphore, shared context, and
// cancel-on-first-error idiom become this package's strategy executors, and
// internal/multiagent/handoff_tool.go's "cannot hand off to yourself" check
// becomes InvalidDelegation's self-spawn rejection.
package subagent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/David2024patton/itak/internal/itakerr"
)

// Strategy selects how a set of sub-agent tasks are run relative to
// each other.
type Strategy string

const (
	// StrategyParallel runs every task concurrently, bounded by MaxParallel.
	StrategyParallel Strategy = "parallel"
	// StrategySequential runs tasks one at a time in the given order.
	StrategySequential Strategy = "sequential"
	// StrategyPipeline feeds each task's output in as the next task's input.
	StrategyPipeline Strategy = "pipeline"
)

// MergeStrategy selects how multiple child outputs become one result.
type MergeStrategy string

const (
	// MergeConcat joins every child's output in task order.
	MergeConcat MergeStrategy = "concat"
	// MergeSummarize hands all child outputs to a Summarizer for fusion.
	MergeSummarize MergeStrategy = "summarize"
	// MergeBest keeps only the highest-scoring child output.
	MergeBest MergeStrategy = "best"
	// MergeCustom defers entirely to a caller-supplied Merger.
	MergeCustom MergeStrategy = "custom"
)

// WaitMode controls cancellation semantics across sibling tasks.
type WaitMode string

const (
	// WaitAll runs every task to completion and aggregates all results,
	// without cancelling siblings on an individual failure or success.
	WaitAll WaitMode = "wait_all"
	// WaitFirst cancels every other pending task as soon as one succeeds.
	WaitFirst WaitMode = "wait_first"
)

// Task is one unit of delegated work: a scoped prompt run under a
// sub-agent's own monologue, checkpointed under its own namespace.
type Task struct {
	ID     string
	Prompt string
	// AgentProfile names which agent definition/persona runs this task;
	// empty inherits the parent's.
	AgentProfile string
}

// Runner executes a single Task and returns its raw output. The Scheduler
// in internal/monologue satisfies this once adapted by the caller: run one
// full monologue scoped to task.Prompt and return its final reply.
type Runner func(ctx context.Context, task Task) (string, error)

// Result is one child's outcome.
type Result struct {
	TaskID string
	Output string
	Err    error
	Score  float64 // only meaningful under MergeBest
}

// Summarizer fuses every child Result into one string, used by
// MergeSummarize (typically a call through C5's utility role).
type Summarizer func(ctx context.Context, results []Result) (string, error)

// Merger is the MergeCustom escape hatch for caller-defined fusion.
type Merger func(ctx context.Context, results []Result) (string, error)

// Request is one coordination call: spawn tasks, run them per Strategy,
// and merge them per MergeStrategy.
type Request struct {
	ParentSessionKey string
	ParentAgentID    string
	Tasks            []Task
	Strategy         Strategy
	Wait             WaitMode
	Merge            MergeStrategy
	MaxParallel      int
	Summarizer       Summarizer
	Custom           Merger
}

// Outcome is everything the coordinator produced: the raw per-task
// results plus the merged final output.
type Outcome struct {
	Results []Result
	Merged  string
}

// Coordinator spawns and runs sub-agent tasks on behalf of a parent
// monologue.
type Coordinator struct {
	run Runner
}

// New builds a Coordinator backed by run, the function that actually
// executes one Task (normally a scoped monologue.Scheduler.Run call).
func New(run Runner) *Coordinator {
	return &Coordinator{run: run}
}

// checkpointNamespace is the C8 key a child task's own monologue should
// checkpoint under, per spec's "<parent>/sub/<n>" convention.
func checkpointNamespace(parentSessionKey string, index int) string {
	return fmt.Sprintf("%s/sub/%d", parentSessionKey, index)
}

// Spawn validates and runs req's tasks, returning the merged outcome.
// Returns itakerr.InvalidArgs (tagged as an "invalid delegation") if a
// task names the parent's own agent profile as its target — a sub-agent
// cannot delegate back to itself.
func (c *Coordinator) Spawn(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Tasks) == 0 {
		return nil, itakerr.New(itakerr.InvalidArgs, "no tasks to spawn", "", 0)
	}
	for _, t := range req.Tasks {
		if t.AgentProfile != "" && strings.EqualFold(t.AgentProfile, req.ParentAgentID) {
			return nil, itakerr.New(itakerr.InvalidArgs, "invalid delegation: sub-agent cannot spawn its own parent agent profile "+t.AgentProfile, "", 0)
		}
	}

	var results []Result
	var err error
	switch req.Strategy {
	case StrategySequential:
		results = c.runSequential(ctx, req)
	case StrategyPipeline:
		results, err = c.runPipeline(ctx, req)
		if err != nil {
			return nil, err
		}
	default:
		results = c.runParallel(ctx, req)
	}

	merged, err := c.mergeResults(ctx, req, results)
	if err != nil {
		return nil, err
	}
	return &Outcome{Results: results, Merged: merged}, nil
}

// runSequential runs each task in order, stopping early under WaitFirst
// once one succeeds.
func (c *Coordinator) runSequential(ctx context.Context, req Request) []Result {
	results := make([]Result, 0, len(req.Tasks))
	for i, t := range req.Tasks {
		_ = checkpointNamespace(req.ParentSessionKey, i)
		out, err := c.run(ctx, t)
		results = append(results, Result{TaskID: t.ID, Output: out, Err: err})
		if req.Wait == WaitFirst && err == nil {
			break
		}
	}
	return results
}

// runPipeline threads each task's output into the next task's prompt,
// appended after a separator, so later stages can build on earlier ones.
func (c *Coordinator) runPipeline(ctx context.Context, req Request) ([]Result, error) {
	results := make([]Result, 0, len(req.Tasks))
	carry := ""
	for i, t := range req.Tasks {
		_ = checkpointNamespace(req.ParentSessionKey, i)
		stageTask := t
		if carry != "" {
			stageTask.Prompt = t.Prompt + "\n\nPrior stage output:\n" + carry
		}
		out, err := c.run(ctx, stageTask)
		results = append(results, Result{TaskID: t.ID, Output: out, Err: err})
		if err != nil {
			return results, err
		}
		carry = out
	}
	return results, nil
}

// runParallel runs every task concurrently, bounded by req.MaxParallel,
// mirroring internal/multiagent/swarm.go's Swarm.Execute semaphore and
// cancel-on-first-error idiom. Under WaitFirst, the first success cancels
// every sibling still in flight; under WaitAll, every task is allowed to
// finish regardless of individual outcome.
func (c *Coordinator) runParallel(ctx context.Context, req Request) []Result {
	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 5
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxParallel)
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)

	for _, t := range req.Tasks {
		task := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				mu.Lock()
				results = append(results, Result{TaskID: task.ID, Err: runCtx.Err()})
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			out, err := c.run(runCtx, task)

			mu.Lock()
			results = append(results, Result{TaskID: task.ID, Output: out, Err: err})
			if req.Wait == WaitFirst && err == nil {
				cancel()
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results
}

// mergeResults fuses a strategy's per-task Results per req.Merge.
func (c *Coordinator) mergeResults(ctx context.Context, req Request, results []Result) (string, error) {
	successful := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return "", itakerr.New(itakerr.ProviderNonTransient, "every sub-agent task failed", "", 0)
	}

	switch req.Merge {
	case MergeBest:
		best := successful[0]
		for _, r := range successful[1:] {
			if r.Score > best.Score {
				best = r
			}
		}
		return best.Output, nil

	case MergeSummarize:
		if req.Summarizer == nil {
			return concatResults(successful), nil
		}
		return req.Summarizer(ctx, successful)

	case MergeCustom:
		if req.Custom == nil {
			return "", itakerr.New(itakerr.InvalidArgs, "merge strategy custom requires a Merger", "", 0)
		}
		return req.Custom(ctx, successful)

	default:
		return concatResults(successful), nil
	}
}

func concatResults(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Output)
	}
	return b.String()
}
