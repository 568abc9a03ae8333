package main

import (
	"fmt"

	"github.com/ainoobmenpg/cc-gateway/internal/config"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/spf13/cobra"
)

// buildSessionCmd creates the "session" command group for inspecting a
// channel's persisted conversation (spec §4.5).
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect a session's persisted transcript",
	}
	cmd.AddCommand(buildSessionShowCmd())
	return cmd
}

func buildSessionShowCmd() *cobra.Command {
	var (
		configPath   string
		channelKind  string
		channelScope string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a session's message history",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionShow(cmd, configPath, channelKind, channelScope)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&channelKind, "channel-kind", "cli", "channel_kind to resolve")
	cmd.Flags().StringVar(&channelScope, "channel-scope", "", "channel_scope to resolve (required)")
	cmd.MarkFlagRequired("channel-scope")
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, channelKind, channelScope string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := sessions.Open(cmd.Context(), cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	session, err := store.GetOrCreate(cmd.Context(), models.ChannelKind(channelKind), channelScope)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	history, err := store.History(cmd.Context(), session.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (%s/%s), %d messages\n", session.ID, session.ChannelKind, session.ChannelScope, len(history))
	for _, msg := range history {
		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				fmt.Fprintf(out, "  [%s] %s\n", msg.Role, block.Text)
			case models.BlockToolUse:
				fmt.Fprintf(out, "  [%s] tool_use %s(%s)\n", msg.Role, block.ToolName, string(block.ToolInput))
			case models.BlockToolResult:
				status := "ok"
				if block.IsError {
					status = "error"
				}
				fmt.Fprintf(out, "  [%s] tool_result (%s) for %s\n", msg.Role, status, block.ToolResultForID)
			}
		}
	}
	return nil
}
