package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ainoobmenpg/cc-gateway/internal/channel"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: it wires the full gateway
// (stores, provider, tool registry, MCP hosts, policy, the Agent Driver)
// and drives a single built-in CLI channel reading lines from stdin.
// External channel adapters (Discord, Telegram, Slack, HTTP, WebSocket)
// attach to the same Dispatcher from their own process — that wiring is
// out of this module's scope (spec §1) — but a terminal has no other
// channel to speak through, so the CLI kind is this binary's own.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		scope      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and an interactive CLI channel",
		Long: `Start the gateway server.

The server will:
1. Load configuration from the specified file (default gateway.yaml)
2. Open the session/memory store and connect configured MCP tool hosts
3. Build the Agent Driver and drive one turn per line read from stdin
4. Print the assistant's reply, and prompt for approval decisions inline

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd, configPath, debug, scope)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&scope, "channel-scope", "local", "channel_scope identifying this CLI session")

	return cmd
}

func runServe(cmd *cobra.Command, configPath string, debug bool, scope string) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink := &cliReplySink{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}

	gw, err := buildGateway(ctx, configPath, channel.NewApprovalSinkAdapter())
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	fmt.Fprintln(sink.out, "gatewayd ready. Type a message and press enter; ctrl-d to exit.")

	reader := bufio.NewScanner(cmd.InOrStdin())
	for reader.Scan() {
		if ctx.Err() != nil {
			break
		}
		text := strings.TrimSpace(reader.Text())
		if text == "" {
			continue
		}
		err := gw.dispatcher.HandleMessage(ctx, channel.InboundTurn{
			ChannelKind:    models.ChannelCLI,
			ChannelScope:   scope,
			SenderIdentity: "operator",
			Text:           text,
			ReplySink:      sink,
		})
		if err != nil {
			slog.Error("turn failed", "error", err)
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// cliReplySink implements channel.ReplySink over stdin/stdout: approval
// prompts are rendered as a yes/no question on the same terminal.
type cliReplySink struct {
	in  *bufio.Reader
	out io.Writer
}

func (s *cliReplySink) Send(_ context.Context, turn channel.OutboundTurn) error {
	_, err := fmt.Fprintf(s.out, "%s\n", turn.Text)
	return err
}

func (s *cliReplySink) RequestDecision(_ context.Context, req models.ApprovalRequest) (models.ApprovalDecisionState, string, error) {
	fmt.Fprintf(s.out, "\napproval required for %s (sensitivity %d): %s\nallow? [y/N] ", req.ToolName, req.Sensitivity, req.RenderedPreview)
	line, err := s.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return models.DecisionTimeout, "", err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		return models.DecisionAllow, "operator", nil
	}
	return models.DecisionDeny, "operator", nil
}

func (s *cliReplySink) DMCapable() bool { return true }
