// Package config holds the runtime configuration: a JSON5 file overlaid
// with FEATHERBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/featherlabs/featherbot/internal/channels/telegram"
	"github.com/featherlabs/featherbot/internal/subagent"
)

// Config is the root configuration.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Tools     ToolsConfig     `json:"tools"`
	Subagents SubagentsConfig `json:"subagents"`
	Cron      CronConfig      `json:"cron"`
	Memory    MemoryConfig    `json:"memory"`
	Log       LogConfig       `json:"log"`
}

// AgentConfig tunes the main agent loop.
type AgentConfig struct {
	Workspace           string  `json:"workspace"`
	RestrictToWorkspace bool    `json:"restrictToWorkspace"`
	SystemPrompt        string  `json:"systemPrompt,omitempty"`
	Model               string  `json:"model,omitempty"`
	MaxTokens           int     `json:"maxTokens"`
	Temperature         float32 `json:"temperature"`
	MaxHistoryMessages  int     `json:"maxHistoryMessages"`
	MaxToolIterations   int     `json:"maxToolIterations"`
	SessionsDir         string  `json:"sessionsDir,omitempty"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	Name    string `json:"name"` // "openai" or any OpenAI-compatible endpoint
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ChannelsConfig enables transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig wraps the adapter config with an enable flag.
type TelegramConfig struct {
	Enabled bool `json:"enabled"`
	telegram.Config
}

// ToolsConfig tunes the built-in tool set.
type ToolsConfig struct {
	ExecTimeoutSeconds int    `json:"execTimeoutSeconds"`
	EvictionThreshold  int    `json:"evictionThreshold"` // bytes; oversized results spill to scratch files
	ScratchDir         string `json:"scratchDir,omitempty"`
	BraveAPIKey        string `json:"braveApiKey,omitempty"`
}

// SubagentsConfig tunes the sub-agent manager.
type SubagentsConfig struct {
	TimeoutSeconds int                           `json:"timeoutSeconds"`
	RetentionCap   int                           `json:"retentionCap"`
	Specs          map[string]subagent.AgentSpec `json:"specs,omitempty"`
}

// CronConfig locates the job store.
type CronConfig struct {
	StorePath string `json:"storePath"`
}

// MemoryConfig tunes the idle extractor.
type MemoryConfig struct {
	Enabled bool `json:"enabled"`
	IdleMs  int  `json:"idleMs"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".featherbot")
	return &Config{
		Agent: AgentConfig{
			Workspace:           filepath.Join(base, "workspace"),
			RestrictToWorkspace: true,
			MaxTokens:           8192,
			Temperature:         0.7,
			MaxHistoryMessages:  50,
			MaxToolIterations:   10,
			SessionsDir:         filepath.Join(base, "sessions"),
		},
		Provider: ProviderConfig{
			Name: "openai",
		},
		Tools: ToolsConfig{
			ExecTimeoutSeconds: 60,
			EvictionThreshold:  30000,
		},
		Subagents: SubagentsConfig{
			TimeoutSeconds: 300,
			RetentionCap:   50,
		},
		Cron: CronConfig{
			StorePath: filepath.Join(base, "cron", "jobs.json"),
		},
		Memory: MemoryConfig{
			Enabled: true,
			IdleMs:  300000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the parts that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider.apiKey is required (or FEATHERBOT_API_KEY)")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("config: channels.telegram.token is required when telegram is enabled")
	}
	if c.Memory.IdleMs < 0 {
		return fmt.Errorf("config: memory.idleMs must not be negative")
	}
	return nil
}

// ExpandPaths resolves "~" prefixes in path-valued fields.
func (c *Config) ExpandPaths() {
	c.Agent.Workspace = expandHome(c.Agent.Workspace)
	c.Agent.SessionsDir = expandHome(c.Agent.SessionsDir)
	c.Cron.StorePath = expandHome(c.Cron.StorePath)
	c.Tools.ScratchDir = expandHome(c.Tools.ScratchDir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
