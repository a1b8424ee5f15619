package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/featherlabs/featherbot/internal/providers"
	"github.com/featherlabs/featherbot/internal/tools"
)

// contextPairs is how many recent user/assistant pairs are handed to a
// spawned child.
const contextPairs = 3

// SpawnTool lets the parent agent delegate a task to a sub-agent.
// It lives here rather than in the tools package so the registry never
// depends on the manager. The child's origin chat comes from the
// conversation carried on the context.
type SpawnTool struct {
	manager *Manager

	// history supplies the parent transcript for a session key so the
	// child prompt can carry recent context. Optional.
	history func(sessionKey string) []providers.Message
}

func NewSpawnTool(m *Manager, history func(sessionKey string) []providers.Message) *SpawnTool {
	return &SpawnTool{manager: m, history: history}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Delegate a task to a background sub-agent with its own tool set. Returns the sub-agent ID immediately; the result is announced when it finishes."
}
func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Complete, self-contained task description for the sub-agent",
			},
			"spec": map[string]any{
				"type":        "string",
				"description": "Sub-agent spec name (default: general)",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Optional timeout override in seconds",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task, _ := args["task"].(string)
	spec, _ := args["spec"].(string)

	var timeout time.Duration
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	conv, _ := tools.ConversationFromContext(ctx)
	parentContext := ""
	if t.history != nil && conv.Channel != "" {
		msgs := t.history(conv.Channel + ":" + conv.ChatID)
		parentContext = CaptureContext(msgs, contextPairs)
	}

	id, err := t.manager.Spawn(SpawnOptions{
		Task:          task,
		Spec:          spec,
		OriginChannel: conv.Channel,
		OriginChatID:  conv.ChatID,
		ParentContext: parentContext,
		Timeout:       timeout,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sub-agent %s spawned. It runs in the background; you will be notified when it completes.", id), nil
}

// StatusTool exposes sub-agent inspection and cancellation to the parent
// agent.
type StatusTool struct {
	manager *Manager
}

func NewStatusTool(m *Manager) *StatusTool {
	return &StatusTool{manager: m}
}

func (t *StatusTool) Name() string { return "subagents" }
func (t *StatusTool) Description() string {
	return "Inspect or cancel background sub-agents. Actions: list, status, cancel."
}
func (t *StatusTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"list", "status", "cancel"},
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Sub-agent ID (required for status and cancel)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *StatusTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	id, _ := args["id"].(string)

	switch action {
	case "list":
		states := t.manager.ListAll()
		if len(states) == 0 {
			return "No sub-agents.", nil
		}
		var b strings.Builder
		for _, s := range states {
			fmt.Fprintf(&b, "%s [%s] %s\n", s.ID, s.Status, tools.Truncate(s.Task, 80))
		}
		return b.String(), nil

	case "status":
		if id == "" {
			return "", fmt.Errorf("id is required for status")
		}
		s, ok := t.manager.GetState(id)
		if !ok {
			return fmt.Sprintf("No sub-agent with ID %s", id), nil
		}
		out := fmt.Sprintf("%s [%s]\nTask: %s", s.ID, s.Status, s.Task)
		if s.Result != "" {
			out += "\nResult: " + s.Result
		}
		if s.Error != "" {
			out += "\nError: " + s.Error
		}
		return out, nil

	case "cancel":
		if id == "" {
			return "", fmt.Errorf("id is required for cancel")
		}
		if t.manager.Cancel(id) {
			return fmt.Sprintf("Cancellation requested for %s", id), nil
		}
		return fmt.Sprintf("Sub-agent %s is not running", id), nil

	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}
