package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/featherlabs/featherbot/internal/bus"
	"github.com/featherlabs/featherbot/internal/providers"
	"github.com/featherlabs/featherbot/internal/tools"
)

const (
	defaultMaxIterations = 10

	// DirectSessionKey is the history bucket for programmatic calls that
	// don't carry a session of their own.
	DirectSessionKey = "direct:default"
)

// ToolResult pairs a tool call with the text it produced.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Result     string `json:"result"`
}

// TurnResult is the outcome of one agent turn. Turns never fail: provider
// errors surface as "[LLM Error] ..." text with FinishReason "error".
type TurnResult struct {
	Text         string
	Usage        providers.Usage
	StepCount    int
	FinishReason string
	ToolCalls    []providers.ToolCall
	ToolResults  []ToolResult
}

// StepEvent is handed to the OnStepFinish callback after each turn.
type StepEvent struct {
	SessionKey   string
	Text         string
	ToolCalls    []providers.ToolCall
	ToolResults  []ToolResult
	Usage        providers.Usage
	FinishReason string
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	Provider      providers.Provider
	Model         string // empty = provider default
	Tools         *tools.Registry
	SystemPrompt  string
	MaxMessages   int // per-session history cap, default 50
	MaxIterations int // tool-call rounds per turn, default 10
	MaxTokens     int
	Temperature   float32

	// OnStepFinish is invoked after every completed turn. Panics inside
	// the callback are swallowed; the turn result is already decided.
	OnStepFinish func(StepEvent)

	// Sessions, when set, persists transcripts across restarts.
	Sessions *SessionStore

	Logger *slog.Logger
}

// Loop drives multi-turn conversations: it builds the prompt from
// per-session history, lets the provider request tool calls, dispatches
// them through the registry, and feeds results back until the model
// produces a final reply or the iteration cap is hit.
type Loop struct {
	provider      providers.Provider
	model         string
	tools         *tools.Registry
	systemPrompt  string
	maxMessages   int
	maxIterations int
	maxTokens     int
	temperature   float32
	onStepFinish  func(StepEvent)
	sessions      *SessionStore
	log           *slog.Logger

	mu        sync.Mutex
	histories map[string]*History
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry(tools.RegistryConfig{})
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Provider.DefaultModel()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:      cfg.Provider,
		model:         cfg.Model,
		tools:         cfg.Tools,
		systemPrompt:  cfg.SystemPrompt,
		maxMessages:   cfg.MaxMessages,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		onStepFinish:  cfg.OnStepFinish,
		sessions:      cfg.Sessions,
		log:           cfg.Logger,
		histories:     make(map[string]*History),
	}, nil
}

// DirectOptions tune a ProcessDirect call.
type DirectOptions struct {
	SystemPrompt string // overrides the loop's default system prompt
	SessionKey   string // history bucket, default "direct:default"
	SkipHistory  bool   // don't persist the user/assistant pair
}

// ProcessMessage runs a turn for an inbound channel message using the
// loop's default system prompt, keyed by the message's session.
func (l *Loop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) TurnResult {
	return l.runTurn(ctx, msg.Content, l.systemPrompt, msg.SessionKey(), false)
}

// ProcessDirect runs a turn outside the bus path.
func (l *Loop) ProcessDirect(ctx context.Context, text string, opts DirectOptions) TurnResult {
	systemPrompt := l.systemPrompt
	if opts.SystemPrompt != "" {
		systemPrompt = opts.SystemPrompt
	}
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		sessionKey = DirectSessionKey
	}
	return l.runTurn(ctx, text, systemPrompt, sessionKey, opts.SkipHistory)
}

// History returns the history for a session key, creating it on first use.
func (l *Loop) History(sessionKey string) *History {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.histories[sessionKey]
	if !ok {
		h = NewHistory(l.maxMessages)
		if l.sessions != nil {
			for _, m := range l.sessions.Load(sessionKey) {
				h.Add(m)
			}
		}
		l.histories[sessionKey] = h
	}
	return h
}

// ClearHistory drops the stored transcript for a session.
func (l *Loop) ClearHistory(sessionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.histories, sessionKey)
}

func (l *Loop) runTurn(ctx context.Context, text, systemPrompt, sessionKey string, skipHistory bool) TurnResult {
	history := l.History(sessionKey)

	messages := make([]providers.Message, 0, history.Len()+2)
	if systemPrompt != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history.Messages()...)
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: text})

	defs := l.tools.Definitions()

	result := TurnResult{FinishReason: "stop"}
	for result.StepCount < l.maxIterations {
		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-turn: resolve without touching history.
				l.log.Debug("agent: turn cancelled", "session", sessionKey)
				return TurnResult{
					Text:         "[LLM Error] " + ctx.Err().Error(),
					StepCount:    result.StepCount,
					FinishReason: "error",
				}
			}
			l.log.Error("agent: provider call failed", "session", sessionKey, "error", err)
			result.Text = "[LLM Error] " + err.Error()
			result.FinishReason = "error"
			result.ToolCalls = nil
			result.ToolResults = nil
			l.finishTurn(history, sessionKey, text, result, skipHistory)
			return result
		}

		result.StepCount++
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Content
			result.FinishReason = resp.FinishReason
			break
		}

		// Tool round: echo the assistant's calls, execute each through
		// the registry, and feed the results back.
		messages = append(messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			out := l.tools.Execute(ctx, call.Name, call.Arguments)
			l.log.Debug("agent: tool executed",
				"session", sessionKey, "tool", call.Name, "result_len", len(out))
			result.ToolCalls = append(result.ToolCalls, call)
			result.ToolResults = append(result.ToolResults, ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Result:     out,
			})
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
			})
		}

		if result.StepCount >= l.maxIterations {
			result.Text = resp.Content
			result.FinishReason = "length"
			l.log.Warn("agent: tool iteration cap reached",
				"session", sessionKey, "max_iterations", l.maxIterations)
		}
	}

	l.finishTurn(history, sessionKey, text, result, skipHistory)
	return result
}

// finishTurn records the user/assistant pair and fires OnStepFinish.
func (l *Loop) finishTurn(history *History, sessionKey, userText string, result TurnResult, skipHistory bool) {
	if !skipHistory {
		history.Add(providers.Message{Role: providers.RoleUser, Content: userText})
		if result.Text != "" {
			history.Add(providers.Message{Role: providers.RoleAssistant, Content: result.Text})
		}
		if l.sessions != nil {
			l.sessions.Save(sessionKey, history.Messages())
		}
	}

	if l.onStepFinish != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					l.log.Warn("agent: step callback panicked", "session", sessionKey, "panic", rec)
				}
			}()
			l.onStepFinish(StepEvent{
				SessionKey:   sessionKey,
				Text:         result.Text,
				ToolCalls:    result.ToolCalls,
				ToolResults:  result.ToolResults,
				Usage:        result.Usage,
				FinishReason: result.FinishReason,
			})
		}()
	}
}
