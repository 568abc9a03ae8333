package main

import (
	"fmt"

	"github.com/ainoobmenpg/cc-gateway/internal/audit"
	"github.com/ainoobmenpg/cc-gateway/internal/config"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/spf13/cobra"
)

// buildAuditCmd creates the "audit" command group.
func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the append-only audit log",
	}
	cmd.AddCommand(buildAuditVerifyCmd())
	return cmd
}

func buildAuditVerifyCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "verify <log-file>",
		Short: "Check that a session's persisted transcript replays to the same tool calls the audit log recorded",
		Long: `Re-derives the tool_call audit trail implied by a session's persisted
message log (internal/audit.ReplayFromMessages) and compares it against the
tool_call records decoded from <log-file>, matched by tool_call_id. Any
tool call present in one but not the other, or with a differing outcome, is
reported (spec §8 "idempotent replay of audit").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runAuditVerify(cmd, configPath, args[0], sessionID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to replay against (required)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runAuditVerify(cmd *cobra.Command, configPath, logPath, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	records, err := audit.ReadFile(logPath, cfg.Audit.EncryptionKey())
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	loggedByID := make(map[string]audit.Record, len(records))
	for _, rec := range records {
		if rec.Kind == audit.EventToolCall && rec.SessionID == sessionID {
			loggedByID[rec.ToolCallID] = rec
		}
	}

	store, err := sessions.Open(cmd.Context(), cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	history, err := store.History(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}
	derived := audit.ReplayFromMessages(sessionID, history)

	out := cmd.OutOrStdout()
	mismatches := 0
	for _, call := range derived {
		rec, ok := loggedByID[call.ID]
		if !ok {
			fmt.Fprintf(out, "MISSING: tool_call %s (%s) has no matching audit record\n", call.ID, call.ToolName)
			mismatches++
			continue
		}
		if rec.Outcome != string(call.Outcome) {
			fmt.Fprintf(out, "MISMATCH: tool_call %s (%s): transcript says %q, audit log says %q\n",
				call.ID, call.ToolName, call.Outcome, rec.Outcome)
			mismatches++
		}
		delete(loggedByID, call.ID)
	}
	for id, rec := range loggedByID {
		fmt.Fprintf(out, "ORPHANED: audit record %s (%s) has no matching transcript tool_call\n", id, rec.ToolName)
		mismatches++
	}

	if mismatches == 0 {
		fmt.Fprintf(out, "ok: %d tool calls verified, audit log and transcript agree\n", len(derived))
		return nil
	}
	return fmt.Errorf("audit verify: %d mismatch(es) found", mismatches)
}
