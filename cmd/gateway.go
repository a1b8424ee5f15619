package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/featherlabs/featherbot/internal/gateway"
)

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start the gateway (channels, cron, sub-agents)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfg := loadConfig()
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	logger.Info("featherbot gateway starting", "version", Version, "workspace", cfg.Agent.Workspace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("graceful shutdown initiated", "signal", sig)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	g.Stop(stopCtx)
}

// waitOrSignal blocks until done closes or a termination signal arrives.
func waitOrSignal(done <-chan struct{}, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-done:
	case sig := <-sigCh:
		logger.Info("interrupted", "signal", sig)
	}
}
