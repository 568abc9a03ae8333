package main

import (
	"fmt"

	"github.com/ainoobmenpg/cc-gateway/internal/config"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/spf13/cobra"
)

// buildMigrateCmd creates the "migrate" command group. Unlike the teacher's
// Postgres migration runner (up/down/status against a long-lived server),
// this module's embedded sqlite store applies its migrations automatically
// and idempotently on every Open (internal/sessions/migrate.go) — there is
// no separate "down" to offer, since sessions.Open never exposes one.
// "apply" and "status" remain as the operational surface worth keeping.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect session-store schema migrations",
	}
	cmd.AddCommand(buildMigrateApplyCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateApplyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Open the session store, applying any pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMigrateApply(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runMigrateApply(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := sessions.Open(cmd.Context(), cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	defer store.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied to %s\n", cfg.Store.Path)
	return nil
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List applied schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMigrateStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := sessions.Open(cmd.Context(), cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	rows, err := store.DB().QueryContext(cmd.Context(), `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "applied migrations:")
	for rows.Next() {
		var id, appliedAt string
		if err := rows.Scan(&id, &appliedAt); err != nil {
			return err
		}
		fmt.Fprintf(out, "  - %s (applied %s)\n", id, appliedAt)
	}
	return rows.Err()
}
