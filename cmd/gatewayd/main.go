// Package main provides the CLI entry point for the gateway: an LLM
// gateway that mediates between external inbound channels and upstream
// chat-completion providers, arbitrating tool execution through a layered
// security policy (spec §1).
//
// # Basic Usage
//
// Start the server:
//
//	gatewayd serve --config gateway.yaml
//
// Apply or inspect database migrations:
//
//	gatewayd migrate apply
//	gatewayd migrate status
//
// Inspect a session's history:
//
//	gatewayd session show --channel-kind cli --channel-scope local
//
// Verify the audit log against a session's persisted transcript:
//
//	gatewayd audit verify audit.log.2026-07-30 --session <id>
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Kept separate from main for testability.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gatewayd",
		Short:   "LLM gateway: channels in, tool-using agent loop, provider out",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `gatewayd drives a tool-using agent loop against an upstream LLM
provider on behalf of external inbound channels (messaging platforms, HTTP,
WebSocket, CLI). Channel adapters live outside this binary; gatewayd itself
hosts the core loop, the session/memory stores, the MCP tool hosts, and a
built-in CLI channel for local interactive use.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildSessionCmd(),
		buildAuditCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the same default-path convention as the rest of
// the command tree: an explicit --config always wins, otherwise "gateway.yaml".
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "gateway.yaml"
	}
	return path
}
