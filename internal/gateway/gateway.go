// Package gateway is the composition root: it wires the bus, provider,
// tool registry, agent loop, sub-agent manager, cron service, memory
// extractor, and channel adapters into one running process.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/featherlabs/featherbot/internal/agent"
	"github.com/featherlabs/featherbot/internal/bootstrap"
	"github.com/featherlabs/featherbot/internal/bus"
	"github.com/featherlabs/featherbot/internal/channels"
	"github.com/featherlabs/featherbot/internal/channels/telegram"
	"github.com/featherlabs/featherbot/internal/config"
	"github.com/featherlabs/featherbot/internal/cron"
	"github.com/featherlabs/featherbot/internal/memory"
	"github.com/featherlabs/featherbot/internal/providers"
	"github.com/featherlabs/featherbot/internal/subagent"
	"github.com/featherlabs/featherbot/internal/tools"
)

const defaultSystemPrompt = `You are FeatherBot, a persistent personal assistant reachable over chat.
You have tools for files, shell, web search, scheduling, and delegating
background work to sub-agents. Be concise; chat messages are small.
When asked to do something later or repeatedly, use the cron tool.
For long-running work, use spawn and keep the conversation responsive.`

// Gateway owns the whole runtime.
type Gateway struct {
	cfg *config.Config
	log *slog.Logger

	bus       *bus.MessageBus
	provider  providers.Provider
	registry  *tools.Registry
	loop      *agent.Loop
	subagents *subagent.Manager
	cron      *cron.Service
	extractor *memory.Extractor
	channels  *channels.Manager

	inboundSub *bus.Subscription
	sessionMu  sync.Map // session key → *sync.Mutex
	wg         sync.WaitGroup
}

// Option tweaks gateway construction.
type Option func(*Gateway)

// WithProvider substitutes the LLM provider built from config.
func WithProvider(p providers.Provider) Option {
	return func(g *Gateway) { g.provider = p }
}

// New builds the runtime from config. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg: cfg,
		log: logger,
		bus: bus.New(logger),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.provider == nil {
		g.provider = providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Provider.Model,
			Name:    cfg.Provider.Name,
		})
	}

	if err := g.buildRegistry(); err != nil {
		return nil, err
	}
	if err := g.buildAgent(); err != nil {
		return nil, err
	}
	if err := g.buildSubagents(); err != nil {
		return nil, err
	}
	if err := g.buildCron(); err != nil {
		return nil, err
	}

	g.extractor = memory.NewExtractor(memory.Config{
		Loop:    g.loop,
		Idle:    time.Duration(cfg.Memory.IdleMs) * time.Millisecond,
		Enabled: cfg.Memory.Enabled,
		Logger:  logger,
	})

	if err := g.buildChannels(); err != nil {
		return nil, err
	}
	return g, nil
}

// buildRegistry registers the core tool set.
func (g *Gateway) buildRegistry() error {
	workspace := g.cfg.Agent.Workspace
	restrict := g.cfg.Agent.RestrictToWorkspace

	g.registry = tools.NewRegistry(tools.RegistryConfig{
		EvictionThreshold: g.cfg.Tools.EvictionThreshold,
		ScratchDir:        g.cfg.Tools.ScratchDir,
	})

	execTool := tools.NewExecTool(workspace, restrict)
	if g.cfg.Tools.ExecTimeoutSeconds > 0 {
		execTool.SetTimeout(time.Duration(g.cfg.Tools.ExecTimeoutSeconds) * time.Second)
	}

	core := []tools.Tool{
		execTool,
		tools.NewReadFileTool(workspace, restrict),
		tools.NewWriteFileTool(workspace, restrict),
		tools.NewEditFileTool(workspace, restrict),
		tools.NewListDirTool(workspace, restrict),
		tools.NewWebSearchTool(tools.WebSearchConfig{BraveAPIKey: g.cfg.Tools.BraveAPIKey}),
		tools.NewWebFetchTool(),
		tools.NewMessageTool(g.bus),
	}
	for _, t := range core {
		if err := g.registry.Register(t); err != nil {
			return fmt.Errorf("gateway: register %s: %w", t.Name(), err)
		}
	}
	return nil
}

func (g *Gateway) buildAgent() error {
	var sessions *agent.SessionStore
	if g.cfg.Agent.SessionsDir != "" {
		var err error
		sessions, err = agent.NewSessionStore(g.cfg.Agent.SessionsDir, g.log)
		if err != nil {
			return fmt.Errorf("gateway: session store: %w", err)
		}
	}

	systemPrompt := g.cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	if created, err := bootstrap.EnsureWorkspaceFiles(g.cfg.Agent.Workspace); err != nil {
		g.log.Warn("gateway: workspace seeding failed", "error", err)
	} else if len(created) > 0 {
		g.log.Info("gateway: seeded workspace files", "files", created)
	}
	contextFiles := bootstrap.LoadContextFiles(g.cfg.Agent.Workspace, time.Now())
	if section := bootstrap.BuildPromptContext(contextFiles, bootstrap.TruncateConfig{}); section != "" {
		systemPrompt += "\n\n" + section
	}

	loop, err := agent.NewLoop(agent.LoopConfig{
		Provider:      g.provider,
		Model:         g.cfg.Agent.Model,
		Tools:         g.registry,
		SystemPrompt:  systemPrompt,
		MaxMessages:   g.cfg.Agent.MaxHistoryMessages,
		MaxIterations: g.cfg.Agent.MaxToolIterations,
		MaxTokens:     g.cfg.Agent.MaxTokens,
		Temperature:   g.cfg.Agent.Temperature,
		Sessions:      sessions,
		Logger:        g.log,
	})
	if err != nil {
		return fmt.Errorf("gateway: agent loop: %w", err)
	}
	g.loop = loop
	return nil
}

func (g *Gateway) buildSubagents() error {
	mgr, err := subagent.NewManager(subagent.Config{
		Provider:       g.provider,
		Tools:          g.registry,
		Specs:          g.cfg.Subagents.Specs,
		DefaultTimeout: time.Duration(g.cfg.Subagents.TimeoutSeconds) * time.Second,
		RetentionCap:   g.cfg.Subagents.RetentionCap,
		MaxIterations:  g.cfg.Agent.MaxToolIterations,
		OnComplete:     g.onSubagentComplete,
		Logger:         g.log,
	})
	if err != nil {
		return err
	}
	g.subagents = mgr

	spawn := subagent.NewSpawnTool(mgr, func(sessionKey string) []providers.Message {
		return g.loop.History(sessionKey).Messages()
	})
	if err := g.registry.Register(spawn); err != nil {
		return fmt.Errorf("gateway: register spawn: %w", err)
	}
	if err := g.registry.Register(subagent.NewStatusTool(mgr)); err != nil {
		return fmt.Errorf("gateway: register subagents: %w", err)
	}
	return nil
}

func (g *Gateway) buildCron() error {
	store := cron.NewFileStore(g.cfg.Cron.StorePath, g.log)
	svc, err := cron.NewService(cron.ServiceConfig{
		Store:     store,
		OnJobFire: g.onJobFire,
		Logger:    g.log,
	})
	if err != nil {
		return err
	}
	g.cron = svc

	if err := g.registry.Register(cron.NewTool(svc)); err != nil {
		return fmt.Errorf("gateway: register cron: %w", err)
	}
	return nil
}

func (g *Gateway) buildChannels() error {
	g.channels = channels.NewManager(g.bus, g.log)

	if g.cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(g.cfg.Channels.Telegram.Config, g.bus, g.log)
		if err != nil {
			return fmt.Errorf("gateway: telegram: %w", err)
		}
		if err := g.channels.Register(ch); err != nil {
			return err
		}
	}
	return nil
}

// RegisterChannel adds an extra adapter (e.g. the terminal channel)
// before Start.
func (g *Gateway) RegisterChannel(ch channels.Channel) error {
	return g.channels.Register(ch)
}

// Bus exposes the message bus for embedding callers.
func (g *Gateway) Bus() *bus.MessageBus { return g.bus }

// Cron exposes the cron service for the CLI.
func (g *Gateway) Cron() *cron.Service { return g.cron }

// Start brings the runtime up: inbound subscription, cron, channels.
func (g *Gateway) Start(ctx context.Context) error {
	g.inboundSub = g.bus.Subscribe(bus.TypeInbound, g.onInbound)

	if err := g.cron.Start(); err != nil {
		return fmt.Errorf("gateway: start cron: %w", err)
	}
	if err := g.channels.Start(ctx); err != nil {
		g.cron.Stop()
		return fmt.Errorf("gateway: start channels: %w", err)
	}

	g.log.Info("gateway: up", "channels", g.channels.Names(), "provider", g.provider.Name())
	return nil
}

// Stop tears the runtime down in reverse order of Start and waits for
// in-flight turns.
func (g *Gateway) Stop(ctx context.Context) {
	g.channels.Stop(ctx)
	g.cron.Stop()
	g.extractor.Dispose()

	if g.inboundSub != nil {
		g.bus.Unsubscribe(g.inboundSub)
		g.inboundSub = nil
	}
	g.wg.Wait()
	g.bus.Close()
	g.log.Info("gateway: stopped")
}

// onInbound dispatches a channel message to the agent. Turns for the
// same session run one at a time; different sessions run concurrently.
func (g *Gateway) onInbound(ctx context.Context, ev bus.Event) error {
	in, ok := ev.(bus.InboundEvent)
	if !ok {
		return nil
	}
	msg := in.Message

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.runTurn(msg)
	}()
	return nil
}

func (g *Gateway) runTurn(msg bus.InboundMessage) {
	key := msg.SessionKey()
	muAny, _ := g.sessionMu.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	ctx := tools.WithConversation(context.Background(), tools.Conversation{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
	})

	start := time.Now()
	result := g.loop.ProcessMessage(ctx, msg)
	g.log.Info("gateway: turn done",
		"session", key,
		"steps", result.StepCount,
		"finish", result.FinishReason,
		"duration", time.Since(start).Round(time.Millisecond))

	if result.Text != "" {
		g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel:            msg.Channel,
			ChatID:             msg.ChatID,
			Content:            result.Text,
			InReplyToMessageID: msg.MessageID,
		})
	}

	g.extractor.ScheduleExtraction(key)
}

// onJobFire turns a due cron job into a synthetic agent turn delivered
// to the job's origin conversation.
func (g *Gateway) onJobFire(ctx context.Context, job cron.Job) error {
	if job.Payload.Action != "agent_turn" {
		return fmt.Errorf("gateway: unknown cron action %q", job.Payload.Action)
	}

	channel := job.Payload.Channel
	chatID := job.Payload.ChatID
	turnCtx := ctx
	sessionKey := agent.DirectSessionKey
	if channel != "" && chatID != "" {
		turnCtx = tools.WithConversation(ctx, tools.Conversation{Channel: channel, ChatID: chatID})
		sessionKey = channel + ":" + chatID
	}

	// Same serialization as channel turns: a job reply never interleaves
	// with an in-flight turn on the same session.
	muAny, _ := g.sessionMu.LoadOrStore(sessionKey, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	result := g.loop.ProcessDirect(turnCtx, job.Payload.Message, agent.DirectOptions{
		SessionKey: sessionKey,
	})
	if result.FinishReason == "error" {
		return fmt.Errorf("gateway: cron turn failed: %s", result.Text)
	}

	if result.Text != "" && channel != "" && chatID != "" {
		g.bus.PublishOutbound(turnCtx, bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: result.Text,
		})
	}
	if sessionKey != agent.DirectSessionKey {
		g.extractor.ScheduleExtraction(sessionKey)
	}
	return nil
}

// onSubagentComplete announces a finished sub-agent in its origin chat
// via a follow-up turn, so the reply reads naturally in context.
func (g *Gateway) onSubagentComplete(state subagent.State) {
	if state.OriginChannel == "" || state.OriginChatID == "" {
		return
	}

	var followUp string
	switch state.Status {
	case subagent.StatusCompleted:
		followUp = fmt.Sprintf(
			"A background task you delegated just finished.\nTask: %s\nResult:\n%s\n\nRelay the outcome to the user in one or two sentences.",
			state.Task, state.Result)
	case subagent.StatusFailed:
		followUp = fmt.Sprintf(
			"A background task you delegated failed.\nTask: %s\nError: %s\n\nTell the user briefly and suggest a next step.",
			state.Task, state.Error)
	default:
		// Cancellations were user-initiated; no announcement.
		return
	}

	msg := bus.InboundMessage{
		Channel:   state.OriginChannel,
		SenderID:  "system|subagent",
		ChatID:    state.OriginChatID,
		Content:   followUp,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"subagent_id": state.ID},
	}
	g.bus.PublishInbound(context.Background(), msg)
}
