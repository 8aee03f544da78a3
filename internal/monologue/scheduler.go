// Package monologue implements the C10 Monologue Scheduler: the per-message
// state machine that ties memory recall, model routing, tool execution, and
// self-healing together into one reply.
//
// Grounded on internal/agent/loop.go's AgenticLoop: the Init->Stream->Execute
// Tools->Complete state diagram there becomes this package's
// Idle->Planning->Generating->AwaitingTool->ObservingResult->(Generating|
// Terminating)->Done machine, and streamPhase/executeToolsPhase/continuePhase
// become the stepGenerate/stepAwaitTool/stepObserve methods below, now
// speaking the C4/C5/C6/C7/C8/C9 package surfaces instead of the teacher's
// single provider+executor pair.
package monologue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/David2024patton/itak/internal/agent"
	"github.com/David2024patton/itak/internal/checkpoint"
	"github.com/David2024patton/itak/internal/heal"
	"github.com/David2024patton/itak/internal/hooks"
	"github.com/David2024patton/itak/internal/itakerr"
	"github.com/David2024patton/itak/internal/memory"
	"github.com/David2024patton/itak/internal/router"
	"github.com/David2024patton/itak/internal/tools"
	"github.com/David2024patton/itak/pkg/models"
)

// State names the machine's nodes per spec §4.10.
type State string

const (
	StateIdle            State = "idle"
	StatePlanning        State = "planning"
	StateGenerating      State = "generating"
	StateAwaitingTool    State = "awaiting_tool"
	StateObservingResult State = "observing_result"
	StateTerminating     State = "terminating"
	StateDone            State = "done"
)

// MaxIterations bounds the message loop; exceeding it surfaces a synthetic
// final message rather than looping forever.
const MaxIterations = 10

// maxConsecutiveParseFailures caps how many turns in a row may fail to parse
// into a structured intent before the scheduler surfaces the failure instead
// of continuing to retry.
const maxConsecutiveParseFailures = 3

// Step is one named transition the progress channel reports, mirroring the
// teacher's ResponseChunk streaming idiom but scoped to scheduler-level
// phase boundaries rather than token-level text.
type Step struct {
	State     State
	Iteration int
	Detail    string
	Err       error
}

// Intent is the structured decision extracted from a generated response:
// either a final reply to the user or a tool call to dispatch.
type Intent struct {
	Kind     string // "response" | "tool"
	Response string
	ToolName string
	ToolArgs json.RawMessage
}

// rawIntent is the wire shape the chat model is instructed to emit.
type rawIntent struct {
	Kind     string          `json:"kind"`
	Response string          `json:"response,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// parseIntent extracts a structured Intent from raw model text. The model is
// instructed to reply with a single JSON object; this tolerates a leading or
// trailing prose wrapper the way loop.go's text accumulation tolerates
// partial streaming artifacts, by scanning for the first balanced {...}.
func parseIntent(text string) (*Intent, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object found in response")
	}
	var raw rawIntent
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse intent: %w", err)
	}
	switch raw.Kind {
	case "response":
		return &Intent{Kind: "response", Response: raw.Response}, nil
	case "tool":
		if raw.Tool == "" {
			return nil, errors.New("tool intent missing tool name")
		}
		return &Intent{Kind: "tool", ToolName: raw.Tool, ToolArgs: raw.Args}, nil
	default:
		return nil, fmt.Errorf("unrecognized intent kind %q", raw.Kind)
	}
}

// Config wires the scheduler to the rest of the runtime.
type Config struct {
	Fabric   *memory.Fabric
	Router   *router.Router
	Executor *tools.Executor
	Healer   *heal.Engine
	Checkpoints *checkpoint.Manager
	Hooks    *hooks.Registry

	SystemPrompt string
	CorePrompt   string // static tool/persona prompt prefix, concatenated after SystemPrompt
	Model        string
}

// Scheduler runs one monologue per incoming user message.
type Scheduler struct {
	cfg Config
}

// New builds a Scheduler. Fabric, Router, and Executor are required;
// Healer, Checkpoints, and Hooks may be nil to model a degraded deployment,
// in which case the corresponding step is skipped.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Session is the minimal per-conversation state the scheduler needs: a
// transcript tail and a stable key for budgeting, checkpointing, and hooks.
type Session struct {
	Key          string
	PrincipalID  string
	Transcript   []models.Message
	PlanAnnounced bool
}

// Run executes the full message loop for one inbound message and returns the
// single outbound reply the spec's "exactly one response per message"
// invariant requires. progress, if non-nil, receives a Step per transition;
// the caller is responsible for draining it (buffered or read concurrently)
// since Run closes it on return.
func (s *Scheduler) Run(ctx context.Context, session *Session, msg *models.Message, progress chan<- Step) (string, error) {
	if progress != nil {
		defer close(progress)
	}
	emit := func(st State, iter int, detail string, err error) {
		if progress != nil {
			progress <- Step{State: st, Iteration: iter, Detail: detail, Err: err}
		}
	}

	s.triggerHook(ctx, hooks.PointMonologueStart, session, map[string]any{"message": msg.Content})
	session.Transcript = append(session.Transcript, *msg)
	session.PlanAnnounced = false

	consecutiveParseFailures := 0
	state := StatePlanning

	for iteration := 1; iteration <= MaxIterations; iteration++ {
		emit(state, iteration, "message_loop_start", nil)
		s.triggerHook(ctx, hooks.PointMessageLoopStart, session, map[string]any{"iteration": iteration})

		prompt, err := s.assemblePrompt(ctx, session)
		if err != nil {
			return "", fmt.Errorf("assemble prompt: %w", err)
		}
		s.triggerHook(ctx, hooks.PointPromptAssembleAfter, session, map[string]any{"iteration": iteration})

		state = StateGenerating
		emit(state, iteration, "generating", nil)
		text, genErr := s.generate(ctx, session, prompt)
		if genErr != nil {
			decision := s.handleError(ctx, session.Key, genErr)
			if decision.Kind == "fatal" {
				return "", genErr
			}
			if decision.Kind == "surface" {
				return "", genErr
			}
			// decision.Backoff is advisory; a real deployment would sleep it
			// here, but the scheduler itself stays synchronous and leaves
			// pacing to the caller's retry wrapper.
			continue
		}

		intent, parseErr := parseIntent(text)
		if parseErr != nil {
			consecutiveParseFailures++
			if consecutiveParseFailures >= maxConsecutiveParseFailures {
				return "", fmt.Errorf("repeated structured-intent parse failures: %w", parseErr)
			}
			session.Transcript = append(session.Transcript, models.Message{
				Role:    models.RoleSystem,
				Content: "your last reply did not parse as the required JSON intent; reply again as {\"kind\":\"response\"|\"tool\", ...}",
			})
			continue
		}
		consecutiveParseFailures = 0

		switch intent.Kind {
		case "response":
			state = StateTerminating
			emit(state, iteration, "response", nil)
			session.Transcript = append(session.Transcript, models.Message{Role: models.RoleAssistant, Content: intent.Response})
			s.triggerHook(ctx, hooks.PointMonologueEnd, session, map[string]any{"iterations": iteration})
			return intent.Response, nil

		case "tool":
			state = StateAwaitingTool
			emit(state, iteration, intent.ToolName, nil)
			result, toolErr := s.dispatchTool(ctx, session, *intent)
			state = StateObservingResult
			if toolErr != nil {
				emit(state, iteration, intent.ToolName, toolErr)
				decision := s.handleError(ctx, session.Key, toolErr)
				session.Transcript = append(session.Transcript, models.Message{
					Role:    models.RoleSystem,
					Content: fmt.Sprintf("tool %s failed: %v", intent.ToolName, toolErr),
				})
				if decision.Kind == "fatal" {
					return "", toolErr
				}
				// decision.Kind == "surface" still continues the loop with the
				// failure recorded in the transcript; only fatal classes abort
				// the whole monologue outright.
			} else {
				emit(state, iteration, intent.ToolName, nil)
				session.Transcript = append(session.Transcript, models.Message{
					Role:    models.RoleTool,
					Content: result.Content,
				})
			}
			s.saveCheckpoint(session, iteration)
			continue
		}
	}

	final := "I wasn't able to finish this within the iteration budget and need to stop here."
	session.Transcript = append(session.Transcript, models.Message{Role: models.RoleAssistant, Content: final})
	s.triggerHook(ctx, hooks.PointMonologueEnd, session, map[string]any{"iterations": MaxIterations, "exhausted": true})
	return final, nil
}

// assemblePrompt builds the completion request: memory recall fused with the
// transcript tail, per spec §4.10's ctx = memory.search(...) ∪ history_tail.
func (s *Scheduler) assemblePrompt(ctx context.Context, session *Session) (*agent.CompletionRequest, error) {
	system := s.cfg.SystemPrompt
	if s.cfg.CorePrompt != "" {
		system = system + "\n\n" + s.cfg.CorePrompt
	}

	var recallText string
	if s.cfg.Fabric != nil && len(session.Transcript) > 0 {
		query := session.Transcript[len(session.Transcript)-1].Content
		resp, err := s.cfg.Fabric.Search(ctx, memory.SearchRequest{PrincipalID: session.PrincipalID, Query: query, K: 5})
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, r := range resp.Results {
			b.WriteString("- ")
			b.WriteString(r.Entry.Content)
			b.WriteByte('\n')
		}
		recallText = b.String()
	}
	if recallText != "" {
		system = system + "\n\nRelevant memory:\n" + recallText
	}

	messages := make([]agent.CompletionMessage, 0, len(session.Transcript))
	for _, m := range session.Transcript {
		messages = append(messages, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	return &agent.CompletionRequest{
		Model:    s.cfg.Model,
		System:   system,
		Messages: messages,
	}, nil
}

// generate dispatches through the C5 router and accumulates the streamed
// reply into one string, mirroring streamPhase's textBuilder accumulation.
func (s *Scheduler) generate(ctx context.Context, session *Session, req *agent.CompletionRequest) (string, error) {
	outcome, err := s.cfg.Router.Dispatch(ctx, router.RoleChat, session.PrincipalID, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range outcome.Stream {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

// dispatchTool runs a tool intent through the C6 executor.
func (s *Scheduler) dispatchTool(ctx context.Context, session *Session, intent Intent) (*tools.Result, error) {
	return s.cfg.Executor.Execute(ctx, tools.CallRequest{
		PrincipalID: session.PrincipalID,
		Role:        tools.RoleUser,
		ToolName:    intent.ToolName,
		Input:       intent.ToolArgs,
	})
}

// handleError routes a generation or tool failure through the C7 healer,
// defaulting to an immediate surface when no healer is wired.
func (s *Scheduler) handleError(ctx context.Context, sessionKey string, err error) heal.Decision {
	if s.cfg.Healer == nil {
		return heal.Decision{Kind: "surface", Err: err}
	}
	return s.cfg.Healer.Handle(ctx, sessionKey, err)
}

func (s *Scheduler) saveCheckpoint(session *Session, iteration int) {
	if s.cfg.Checkpoints == nil {
		return
	}
	tail := session.Transcript
	if len(tail) > 20 {
		tail = tail[len(tail)-20:]
	}
	historyTail, err := json.Marshal(tail)
	if err != nil {
		return
	}
	_ = s.cfg.Checkpoints.Save(session.Key, checkpoint.Record{
		SchemaVersion: 1,
		SessionKey:    session.Key,
		HistoryTail:   historyTail,
		Iteration:     iteration,
	}, false)
}

func (s *Scheduler) triggerHook(ctx context.Context, point hooks.LifecyclePoint, session *Session, extra map[string]any) {
	if s.cfg.Hooks == nil {
		return
	}
	hookCtx := map[string]any{"session_key": session.Key, "principal_id": session.PrincipalID}
	for k, v := range extra {
		hookCtx[k] = v
	}
	event := &hooks.Event{
		Type:       hooks.EventType(point),
		Timestamp:  time.Now(),
		SessionKey: session.Key,
		Context:    hookCtx,
	}
	if err := s.cfg.Hooks.Trigger(ctx, event); err != nil {
		_ = itakerr.Wrap(itakerr.InternalInvariant, err, "", 0)
	}
}
