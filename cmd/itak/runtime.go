package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/David2024patton/itak/internal/agent"
	"github.com/David2024patton/itak/internal/agent/providers"
	"github.com/David2024patton/itak/internal/budget"
	"github.com/David2024patton/itak/internal/channels"
	"github.com/David2024patton/itak/internal/channels/telegram"
	"github.com/David2024patton/itak/internal/checkpoint"
	"github.com/David2024patton/itak/internal/config"
	"github.com/David2024patton/itak/internal/heal"
	"github.com/David2024patton/itak/internal/hooks"
	"github.com/David2024patton/itak/internal/memory"
	"github.com/David2024patton/itak/internal/memory/backend/sqlitevec"
	"github.com/David2024patton/itak/internal/memory/embeddings/ollama"
	"github.com/David2024patton/itak/internal/memory/embeddings/openai"
	"github.com/David2024patton/itak/internal/monologue"
	"github.com/David2024patton/itak/internal/router"
	"github.com/David2024patton/itak/internal/store/graph"
	"github.com/David2024patton/itak/internal/store/relational"
	"github.com/David2024patton/itak/internal/store/vectoradapter"
	"github.com/David2024patton/itak/internal/tools"
	"github.com/David2024patton/itak/internal/tools/policy"
	"github.com/David2024patton/itak/internal/vault"
	"github.com/David2024patton/itak/pkg/models"
)

// coreRuntime bundles the C1-C9 components the monologue scheduler needs,
// built once at serve startup and shared across every channel adapter and
// every session.
type coreRuntime struct {
	scheduler  *monologue.Scheduler
	principals channels.PrincipalRegistry
	closers    []func() error
}

func (rt *coreRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("runtime component close failed", "error", err)
		}
	}
}

// buildMemoryFabric wires the C3 relational/graph/vector adapters behind
// the C4 memory fabric, per cfg.VectorMemory. It is also used standalone
// by the memory CLI commands so the fabric's RRF-ranked search is
// reachable outside of a running monologue, not just from inside it.
func buildMemoryFabric(cfg *config.Config) (*memory.Fabric, func() error, error) {
	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace = "."
	}
	relPath := cfg.VectorMemory.SQLiteVec.Path
	if relPath == "" {
		relPath = filepath.Join(workspace, "memory.db")
	}

	rel, err := relational.OpenSQLite(relPath)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: open relational store: %w", err)
	}

	graphDB, err := sql.Open("sqlite", relPath)
	if err != nil {
		rel.Close()
		return nil, nil, fmt.Errorf("memory: open graph store: %w", err)
	}
	g, err := graph.New(graphDB)
	if err != nil {
		rel.Close()
		graphDB.Close()
		return nil, nil, fmt.Errorf("memory: migrate graph store: %w", err)
	}

	dimension := cfg.VectorMemory.Dimension
	if dimension == 0 {
		dimension = 1536
	}
	vecBackend, err := sqlitevec.New(sqlitevec.Config{
		Path:      cfg.VectorMemory.SQLiteVec.Path,
		Dimension: dimension,
	})
	if err != nil {
		rel.Close()
		graphDB.Close()
		return nil, nil, fmt.Errorf("memory: open vector backend: %w", err)
	}
	vec := vectoradapter.New(vecBackend)

	embedder, err := buildEmbedder(cfg.VectorMemory.Embeddings)
	if err != nil {
		rel.Close()
		graphDB.Close()
		return nil, nil, fmt.Errorf("memory: build embedder: %w", err)
	}

	fabric := memory.NewFabric(memory.DefaultFabricConfig(), rel, g, vec, embedder)
	closer := func() error {
		graphDB.Close()
		return rel.Close()
	}
	return fabric, closer, nil
}

// buildEmbedder picks the C4 embedding provider named by cfg, defaulting
// to Ollama (no API key required) when unset so the fabric still works
// in a fully local deployment.
func buildEmbedder(cfg memory.EmbeddingsConfig) (memory.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "", "ollama":
		return ollama.New(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// buildChatProviders turns cfg.LLM into the router's provider set and an
// ordered chat fallback list (default provider first, then the
// configured fallback chain), per spec §2's provider-fallback data flow.
func buildChatProviders(cfg config.LLMConfig) (map[string]agent.LLMProvider, []router.Binding, error) {
	bound := map[string]agent.LLMProvider{}
	order := append([]string{cfg.DefaultProvider}, cfg.FallbackChain...)
	seen := map[string]bool{}
	var bindings []router.Binding

	for _, name := range order {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		pcfg, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		provider, err := buildChatProvider(name, pcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("llm provider %q: %w", name, err)
		}
		bound[name] = provider
		bindings = append(bindings, router.Binding{
			Provider: name,
			Model:    pcfg.DefaultModel,
		})
	}
	if len(bindings) == 0 {
		return nil, nil, fmt.Errorf("no usable llm providers configured")
	}
	return bound, bindings, nil
}

func buildChatProvider(name string, cfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	case "openai":
		return providers.NewOpenAIProvider(cfg.APIKey), nil
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: cfg.BaseURL, DefaultModel: cfg.DefaultModel}), nil
	default:
		return nil, fmt.Errorf("unrecognized provider %q", name)
	}
}

// buildCoreRuntime constructs the C1 (vault), C2 (budget), C3/C4 (store +
// fabric), C5 (router), C6 (tools), C7 (heal), C8 (checkpoint), C9 (hooks)
// components and assembles the C10 monologue scheduler over them, along
// with the C12 principal registry that keys sessions across channels.
func buildCoreRuntime(cfg *config.Config, logger *slog.Logger) (*coreRuntime, error) {
	rt := &coreRuntime{principals: channels.NewInMemoryPrincipalRegistry()}

	fabric, closeFabric, err := buildMemoryFabric(cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeFabric)

	providerSet, bindings, err := buildChatProviders(cfg.LLM)
	if err != nil {
		rt.Close()
		return nil, err
	}

	limiter := budget.New(budget.DefaultConfig())

	chatRouter := router.New(router.Config{
		Roles:     map[router.Role][]router.Binding{router.RoleChat: bindings},
		Providers: providerSet,
	}, limiter)

	secretVault := vault.New(false)
	toolRegistry := tools.NewRegistry(policy.NewResolver())
	hookRegistry := hooks.NewRegistry(logger)
	executor := tools.NewExecutor(toolRegistry, secretVault, hookRegistry, limiter, tools.DefaultExecutorConfig())

	healer := heal.New(nil, nil, nil, heal.DefaultBudgets())

	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace = "."
	}
	checkpoints := checkpoint.NewManager(filepath.Join(workspace, "checkpoints"), 2*time.Second)

	rt.scheduler = monologue.New(monologue.Config{
		Fabric:      fabric,
		Router:      chatRouter,
		Executor:    executor,
		Healer:      healer,
		Checkpoints: checkpoints,
		Hooks:       hookRegistry,
		Model:       cfg.LLM.DefaultProvider,
		SystemPrompt: "You are iTaK, a personal AI agent.",
	})

	return rt, nil
}

// runAgentRuntime builds the core runtime and drives it from whichever
// channel adapters cfg enables, replacing the previous no-op serve loop
// with the actual C1-C10 message pipeline: per spec §2's data flow,
// every inbound message resolves a principal, keys a session, and is
// handed to the monologue scheduler for a single reply.
func runAgentRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rt, err := buildCoreRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build core runtime: %w", err)
	}
	defer rt.Close()

	sessions := map[string]*monologue.Session{}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:  cfg.Channels.Telegram.BotToken,
			Mode:   telegram.ModeLongPolling,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to start telegram adapter: %w", err)
		}
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("telegram adapter start failed: %w", err)
		}
		defer adapter.Stop(context.Background())

		go serveChannel(ctx, rt, adapter, sessions, logger)
	}

	<-ctx.Done()
	return nil
}

// inboundAdapter is the narrow surface serveChannel needs from a channel
// adapter: an inbound message stream and a way to reply on it.
type inboundAdapter interface {
	Messages() <-chan *models.Message
	Send(ctx context.Context, msg *models.Message) error
}

// serveChannel consumes one adapter's inbound stream, resolves the C12
// shared principal identity for the sender, keys the session with
// channels.BuildSessionKey so the same room always lands in the same
// monologue session regardless of which agent handles it, and runs the
// C10 scheduler over the result.
func serveChannel(ctx context.Context, rt *coreRuntime, adapter inboundAdapter, sessions map[string]*monologue.Session, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-adapter.Messages():
			if !ok {
				return
			}
			reply, err := handleInboundMessage(ctx, rt, sessions, msg)
			if err != nil {
				logger.Error("monologue run failed", "error", err, "channel", msg.Channel)
				continue
			}
			if reply == "" {
				continue
			}
			out := &models.Message{
				Channel:   msg.Channel,
				ChannelID: msg.ChannelID,
				Direction: models.DirectionOutbound,
				Role:      models.RoleAssistant,
				Content:   reply,
				Metadata:  msg.Metadata,
				CreatedAt: time.Now(),
			}
			if err := adapter.Send(ctx, out); err != nil {
				logger.Error("failed to send reply", "error", err, "channel", msg.Channel)
			}
		}
	}
}

func handleInboundMessage(ctx context.Context, rt *coreRuntime, sessions map[string]*monologue.Session, msg *models.Message) (string, error) {
	externalID, _ := msg.Metadata["sender_id"].(string)
	if externalID == "" {
		externalID = msg.ChannelID
	}
	principalID, err := rt.principals.Resolve(ctx, msg.Channel, externalID)
	if err != nil {
		return "", fmt.Errorf("resolve principal: %w", err)
	}

	roomType, _ := msg.Metadata["conversation_type"].(string)
	roomID := strconv.FormatInt(chatIDFromMetadata(msg.Metadata), 10)
	if roomID == "0" {
		roomID = msg.ChannelID
	}
	sessionKey := channels.BuildSessionKey(msg.Channel, roomType, roomID)

	session, ok := sessions[sessionKey]
	if !ok {
		session = &monologue.Session{Key: sessionKey, PrincipalID: principalID}
		sessions[sessionKey] = session
	}

	return rt.scheduler.Run(ctx, session, msg, nil)
}

func chatIDFromMetadata(meta map[string]any) int64 {
	switch v := meta["chat_id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
