package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads the config file (JSON5: comments and trailing commas are
// fine), then overlays environment variables. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.ExpandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays FEATHERBOT_* variables; env wins over file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("FEATHERBOT_API_KEY", &c.Provider.APIKey)
	envStr("FEATHERBOT_BASE_URL", &c.Provider.BaseURL)
	envStr("FEATHERBOT_MODEL", &c.Provider.Model)
	envStr("FEATHERBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("FEATHERBOT_BRAVE_API_KEY", &c.Tools.BraveAPIKey)
	envStr("FEATHERBOT_WORKSPACE", &c.Agent.Workspace)
	envStr("FEATHERBOT_SESSIONS_DIR", &c.Agent.SessionsDir)
	envStr("FEATHERBOT_CRON_STORE", &c.Cron.StorePath)
	envStr("FEATHERBOT_LOG_LEVEL", &c.Log.Level)

	envInt("FEATHERBOT_MAX_HISTORY", &c.Agent.MaxHistoryMessages)
	envInt("FEATHERBOT_MAX_TOOL_ITERATIONS", &c.Agent.MaxToolIterations)
	envInt("FEATHERBOT_SUBAGENT_TIMEOUT", &c.Subagents.TimeoutSeconds)
	envInt("FEATHERBOT_MEMORY_IDLE_MS", &c.Memory.IdleMs)

	// A token supplied via env enables the channel.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("FEATHERBOT_MEMORY_ENABLED"); v != "" {
		c.Memory.Enabled = v == "true" || v == "1"
	}
}
