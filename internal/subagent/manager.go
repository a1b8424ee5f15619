// Package subagent runs isolated child agent turns with restricted tool
// sets, timeouts, cancellation, and bounded retention of finished runs.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/featherlabs/featherbot/internal/agent"
	"github.com/featherlabs/featherbot/internal/providers"
	"github.com/featherlabs/featherbot/internal/tools"
)

const (
	defaultTimeout      = 300 * time.Second
	defaultRetentionCap = 50

	// contextMessageLimit caps any single captured message when building
	// the parent-context block for a child's system prompt.
	contextMessageLimit = 2000
)

// Status of a sub-agent run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// State is a snapshot of one sub-agent run. Terminal states are final.
type State struct {
	ID            string    `json:"id"`
	Task          string    `json:"task"`
	Spec          string    `json:"spec"`
	Status        Status    `json:"status"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	CompletedAt   time.Time `json:"completedAt,omitzero"`
	OriginChannel string    `json:"originChannel,omitempty"`
	OriginChatID  string    `json:"originChatId,omitempty"`
}

type run struct {
	state           State
	cancel          context.CancelFunc
	cancelRequested bool
}

// Config configures a Manager.
type Config struct {
	Provider       providers.Provider
	Tools          *tools.Registry // parent registry, filtered per spawn
	Specs          map[string]AgentSpec
	DefaultTimeout time.Duration // default 300 s
	RetentionCap   int           // terminal states kept, default 50
	MaxIterations  int

	// OnComplete fires asynchronously whenever a run reaches a terminal
	// state. Receives a snapshot.
	OnComplete func(State)

	Logger *slog.Logger
}

// Manager owns the id → run table and is safe for concurrent use.
type Manager struct {
	provider       providers.Provider
	tools          *tools.Registry
	specs          map[string]AgentSpec
	defaultTimeout time.Duration
	retentionCap   int
	maxIterations  int
	onComplete     func(State)
	log            *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("subagent: provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("subagent: tool registry is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.RetentionCap <= 0 {
		cfg.RetentionCap = defaultRetentionCap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		provider:       cfg.Provider,
		tools:          cfg.Tools,
		specs:          cfg.Specs,
		defaultTimeout: cfg.DefaultTimeout,
		retentionCap:   cfg.RetentionCap,
		maxIterations:  cfg.MaxIterations,
		onComplete:     cfg.OnComplete,
		log:            cfg.Logger,
		runs:           make(map[string]*run),
	}, nil
}

// SpawnOptions describe one delegated task.
type SpawnOptions struct {
	Task          string
	Spec          string // spec name, unknown or empty falls back to general
	OriginChannel string
	OriginChatID  string
	ParentContext string // recent conversation block for the child prompt
	MemoryContext string // durable memory block for the child prompt
	Timeout       time.Duration
}

// Spawn starts a child agent in the background and returns its id
// immediately. The only error is parameter validation.
func (m *Manager) Spawn(opts SpawnOptions) (string, error) {
	if strings.TrimSpace(opts.Task) == "" {
		return "", fmt.Errorf("subagent: task is required")
	}

	spec := m.resolveSpec(opts.Spec)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.pruneLocked()
	m.runs[id] = &run{
		state: State{
			ID:            id,
			Task:          opts.Task,
			Spec:          spec.Name,
			Status:        StatusRunning,
			StartedAt:     time.Now(),
			OriginChannel: opts.OriginChannel,
			OriginChatID:  opts.OriginChatID,
		},
		cancel: cancel,
	}
	m.mu.Unlock()

	m.log.Info("subagent: spawned", "id", id, "spec", spec.Name, "timeout", timeout)

	go m.execute(ctx, id, spec, opts, timeout)
	return id, nil
}

func (m *Manager) execute(ctx context.Context, id string, spec AgentSpec, opts SpawnOptions, timeout time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			m.finish(id, StatusFailed, "", fmt.Sprintf("panic: %v", rec))
		}
	}()

	allowed := make(map[string]bool, len(spec.ToolPreset))
	for _, name := range spec.ToolPreset {
		allowed[name] = true
	}
	registry := m.tools.Filtered(func(name string) bool {
		return allowed[name] && !blockedTools[name]
	})

	loop, err := agent.NewLoop(agent.LoopConfig{
		Provider:      m.provider,
		Model:         spec.Model,
		Tools:         registry,
		SystemPrompt:  m.buildSystemPrompt(spec, opts),
		MaxIterations: firstPositive(spec.MaxIterations, m.maxIterations),
		Logger:        m.log,
	})
	if err != nil {
		m.finish(id, StatusFailed, "", err.Error())
		return
	}

	runCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	// The turn runs in its own goroutine so the fuse fires even when a
	// provider or tool never observes cancellation. finish is once-only,
	// so a late result from an abandoned turn is discarded.
	resultCh := make(chan agent.TurnResult, 1)
	go func() {
		resultCh <- loop.ProcessDirect(runCtx, opts.Task, agent.DirectOptions{SkipHistory: true})
	}()

	var result agent.TurnResult
	select {
	case result = <-resultCh:
	case <-runCtx.Done():
	}

	// Terminal status precedence: explicit cancel beats the timeout fuse,
	// which beats the task's own outcome.
	m.mu.Lock()
	cancelled := m.runs[id] != nil && m.runs[id].cancelRequested
	m.mu.Unlock()

	switch {
	case cancelled:
		m.finish(id, StatusCancelled, "", "Cancelled by user")
	case runCtx.Err() == context.DeadlineExceeded:
		m.finish(id, StatusFailed, "", "Sub-agent timed out")
	case result.FinishReason == "error":
		m.finish(id, StatusFailed, "", result.Text)
	default:
		m.finish(id, StatusCompleted, result.Text, "")
	}
}

// finish moves a run to a terminal state exactly once and fires the
// completion hook asynchronously.
func (m *Manager) finish(id string, status Status, result, errMsg string) {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok || r.state.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	r.state.Status = status
	r.state.Result = result
	r.state.Error = errMsg
	r.state.CompletedAt = time.Now()
	r.cancel()
	snapshot := r.state
	m.mu.Unlock()

	m.log.Info("subagent: finished", "id", id, "status", status)

	if m.onComplete != nil {
		go m.onComplete(snapshot)
	}
}

// Cancel requests cancellation of a running sub-agent. Returns false for
// unknown ids or already-terminal runs.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok || r.state.Status != StatusRunning {
		m.mu.Unlock()
		return false
	}
	r.cancelRequested = true
	cancel := r.cancel
	m.mu.Unlock()

	cancel()
	return true
}

// GetState returns a snapshot of a run.
func (m *Manager) GetState(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return State{}, false
	}
	return r.state, true
}

// ListActive returns snapshots of running sub-agents, newest first.
func (m *Manager) ListActive() []State {
	return m.list(func(s State) bool { return s.Status == StatusRunning })
}

// ListAll returns snapshots of every retained run, newest first.
func (m *Manager) ListAll() []State {
	return m.list(func(s State) bool { return true })
}

func (m *Manager) list(keep func(State) bool) []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []State
	for _, r := range m.runs {
		if keep(r.state) {
			out = append(out, r.state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// pruneLocked evicts terminal runs beyond the retention cap, oldest
// completedAt first. Caller holds the mutex.
func (m *Manager) pruneLocked() {
	var terminal []*run
	for _, r := range m.runs {
		if r.state.Status != StatusRunning {
			terminal = append(terminal, r)
		}
	}
	if len(terminal) < m.retentionCap {
		return
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].state.CompletedAt.Before(terminal[j].state.CompletedAt)
	})
	evict := len(terminal) - m.retentionCap + 1
	for i := 0; i < evict; i++ {
		delete(m.runs, terminal[i].state.ID)
	}
}

func (m *Manager) buildSystemPrompt(spec AgentSpec, opts SpawnOptions) string {
	var b strings.Builder
	b.WriteString(spec.SystemPrompt)
	if opts.ParentContext != "" {
		b.WriteString("\n\n## Recent conversation\n")
		b.WriteString(opts.ParentContext)
	}
	if opts.MemoryContext != "" {
		b.WriteString("\n\n## Memory\n")
		b.WriteString(opts.MemoryContext)
	}
	return b.String()
}

// CaptureContext renders the last n user/assistant pairs of a transcript
// as a "User: …\nAssistant: …" block for a child's system prompt. System
// and tool messages are excluded; long messages are truncated.
func CaptureContext(messages []providers.Message, n int) string {
	var lines []string
	for _, msg := range messages {
		switch msg.Role {
		case providers.RoleUser:
			lines = append(lines, "User: "+truncateMessage(msg.Content))
		case providers.RoleAssistant:
			if msg.Content != "" {
				lines = append(lines, "Assistant: "+truncateMessage(msg.Content))
			}
		}
	}
	if len(lines) > n*2 {
		lines = lines[len(lines)-n*2:]
	}
	return strings.Join(lines, "\n")
}

func truncateMessage(s string) string {
	if len(s) <= contextMessageLimit {
		return s
	}
	return s[:contextMessageLimit] + "…"
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
