package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.MaxHistoryMessages != 50 || cfg.Subagents.TimeoutSeconds != 300 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Memory.IdleMs != 300000 || !cfg.Memory.Enabled {
		t.Errorf("memory defaults wrong: %+v", cfg.Memory)
	}
}

func TestLoadJSON5WithCommentsAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	content := `{
	// main agent settings
	agent: {
		maxHistoryMessages: 20,
		maxToolIterations: 5,
	},
	provider: {
		name: "openai",
		apiKey: "file-key",
	},
	channels: {
		telegram: { enabled: true, token: "file-token" },
	},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FEATHERBOT_API_KEY", "env-key")
	t.Setenv("FEATHERBOT_MAX_HISTORY", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("apiKey = %q, want env override", cfg.Provider.APIKey)
	}
	if cfg.Agent.MaxHistoryMessages != 7 {
		t.Errorf("maxHistoryMessages = %d, want 7", cfg.Agent.MaxHistoryMessages)
	}
	if cfg.Agent.MaxToolIterations != 5 {
		t.Errorf("maxToolIterations = %d, want file value 5", cfg.Agent.MaxToolIterations)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "file-token" {
		t.Errorf("telegram config = %+v", cfg.Channels.Telegram)
	}
}

func TestEnvTokenEnablesTelegram(t *testing.T) {
	t.Setenv("FEATHERBOT_TELEGRAM_TOKEN", "env-token")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram not auto-enabled by env token")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("missing API key accepted")
	}
	cfg.Provider.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	cfg.Channels.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("enabled telegram without token accepted")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := expandHome("~/x/y")
	if got != filepath.Join(home, "x", "y") {
		t.Errorf("got %q", got)
	}
	if expandHome("/abs/path") != "/abs/path" {
		t.Error("absolute path mangled")
	}
}
