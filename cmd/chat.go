package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/featherlabs/featherbot/internal/channels/terminal"
	"github.com/featherlabs/featherbot/internal/gateway"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Run: func(cmd *cobra.Command, args []string) {
			runChat()
		},
	}
}

func runChat() {
	cfg := loadConfig()
	// Telegram stays down during a local chat session.
	cfg.Channels.Telegram.Enabled = false
	logger := setupLogging(cfg)

	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		logger.Error("failed to create workspace", "path", cfg.Agent.Workspace, "error", err)
		os.Exit(1)
	}

	g, err := gateway.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	term := terminal.New(g.Bus(), logger)
	if err := g.RegisterChannel(term); err != nil {
		logger.Error("failed to register terminal channel", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	waitOrSignal(term.Done, logger)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	g.Stop(stopCtx)
}
