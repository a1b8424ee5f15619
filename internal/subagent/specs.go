package subagent

// AgentSpec is a named sub-agent persona: a system prompt plus the tool
// names the child is allowed to use.
type AgentSpec struct {
	Name          string   `json:"name"`
	SystemPrompt  string   `json:"systemPrompt"`
	ToolPreset    []string `json:"toolPreset"`
	Model         string   `json:"model,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
}

// coreToolPreset is the tool set of the built-in "general" spec.
var coreToolPreset = []string{
	"exec",
	"read_file",
	"write_file",
	"edit_file",
	"list_dir",
	"web_search",
	"web_fetch",
}

// blockedTools are never available to sub-agents regardless of preset:
// no recursive spawning, no scheduling, no direct channel messaging.
var blockedTools = map[string]bool{
	"spawn":     true,
	"subagents": true,
	"cron":      true,
	"message":   true,
}

const generalSystemPrompt = `You are a focused sub-agent executing a single delegated task.
Work autonomously: do not ask clarifying questions. Use your tools to complete
the task and finish with a concise summary of what you did and found.`

func generalSpec() AgentSpec {
	return AgentSpec{
		Name:         "general",
		SystemPrompt: generalSystemPrompt,
		ToolPreset:   coreToolPreset,
	}
}

// resolveSpec returns the named spec, falling back to "general" for
// unknown names.
func (m *Manager) resolveSpec(name string) AgentSpec {
	if name != "" {
		if spec, ok := m.specs[name]; ok {
			return spec
		}
		m.log.Debug("subagent: unknown spec, using general", "spec", name)
	}
	return generalSpec()
}
