// Package main provides the CLI entry point for warden, an agent runtime that
// gates risky tool calls behind operator approval.
//
// # Basic Usage
//
// Start the gateway:
//
//	warden serve --config warden.yaml
//
// Chat in the terminal, approving tool calls inline:
//
//	warden chat --session local
//
// Work with a running gateway:
//
//	warden approvals list
//	warden approvals approve 3f2a
//	warden lanes
//
// # Environment Variables
//
//   - WARDEN_CONFIG: path to the configuration file (default: warden.yaml)
//   - WARDEN_URL: base URL of a running gateway (default: http://localhost:8080)
//   - WARDEN_TOKEN: bearer token for the gateway API
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "warden.yaml"

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

// buildRootCmd is separate from main for tests.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "warden - agent runtime with operator-approved tool calls",
		Long: `warden runs LLM agent turns per session, executes tools with bounded
concurrency, and asks an operator before running anything risky.

Supported LLM providers: Anthropic, OpenAI, Google, Bedrock
Approval channels: Slack, Telegram, Discord, HTTP API, terminal`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildApprovalsCmd(),
		buildLanesCmd(),
		buildSessionCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then WARDEN_CONFIG.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("WARDEN_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
