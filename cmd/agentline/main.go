// Package main provides the CLI entry point for the agentline channel
// gateway.
//
// Agentline connects per-agent messaging channels (Telegram, WhatsApp)
// to an external question-answering service. Each agent gets its own
// bot deployment with independent lifecycle management.
//
// Start the server:
//
//	agentline serve --config agentline.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentline",
		Short: "Agentline - per-agent messaging channel gateway",
		Long: `Agentline deploys and supervises messaging channel connections for
agents: Telegram bots registered via webhook and WhatsApp sessions
paired via QR code. Inbound questions are proxied to an ask gateway
and answers are sent back into the originating chat.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
