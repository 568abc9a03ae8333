package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ainoobmenpg/cc-gateway/internal/agent"
	"github.com/ainoobmenpg/cc-gateway/internal/audit"
	"github.com/ainoobmenpg/cc-gateway/internal/channel"
	"github.com/ainoobmenpg/cc-gateway/internal/config"
	"github.com/ainoobmenpg/cc-gateway/internal/mcp"
	"github.com/ainoobmenpg/cc-gateway/internal/memory"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/policy"
	"github.com/ainoobmenpg/cc-gateway/internal/providers"
	"github.com/ainoobmenpg/cc-gateway/internal/ratelimit"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
	"github.com/ainoobmenpg/cc-gateway/internal/tools/builtin"
)

// gateway bundles the process-wide collaborators the "serve" command
// needs, built once from a loaded config (spec §5 "shared
// resources ... reference-counted across all drivers").
type gateway struct {
	cfg        *config.Config
	store      *sessions.SQLiteStore
	auditor    *audit.Logger
	mcpManager *mcp.Manager
	driver     *agent.Driver
	dispatcher *channel.Dispatcher
}

// buildGateway loads configPath and wires every collaborator the driver
// needs: store, registry (built-ins + MCP-adapted tools), policy, auditor,
// rate limiter, and the Agent Driver itself.
func buildGateway(ctx context.Context, configPath string, sink policy.ApprovalSink) (*gateway, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := sessions.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	provider, err := providers.New(cfg.Provider.Dialect, cfg.Provider.APIKey(), cfg.Provider.BaseURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build provider: %w", err)
	}

	registry := tools.NewRegistry()
	fsCfg := builtin.FSConfig{Workspace: cfg.Workspace}
	registerBuiltins(registry, fsCfg, cfg, store)

	mcpManager := mcp.NewManager(slog.Default())
	mcpManager.ConnectAll(ctx, cfg.MCP.Servers, registry)

	auditor, err := audit.NewLogger(cfg.Audit.Path, cfg.Audit.EncryptionKey())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	sensitivityOverrides := make(map[string]models.Sensitivity, len(cfg.Policy.SensitivityOverrides))
	for name, level := range cfg.Policy.SensitivityOverrides {
		sensitivityOverrides[name] = models.Sensitivity(level)
	}
	pol := policy.New(sink, sensitivityOverrides, cfg.Policy.ApprovalTimeout, cfg.Policy.AdminIdentities)

	limiter := ratelimit.New(cfg.Limits.RateLimitPerSecond, cfg.Limits.RateLimitBurst)
	limiterKey := ratelimit.Key(cfg.Provider.Dialect, audit.Digest([]byte(cfg.Provider.APIKey())))

	model := cfg.Provider.Model
	if model == "" {
		model = defaultModelFor(cfg.Provider.Dialect)
	}

	driver := agent.New(agent.DriverConfig{
		Store:                   store,
		Provider:                provider,
		Registry:                registry,
		Policy:                  pol,
		Auditor:                 auditor,
		Locker:                  sessions.NewTurnLocker(),
		Model:                   model,
		Limiter:                 limiter,
		LimiterKey:              limiterKey,
		MaxIterations:           cfg.Limits.MaxIterations,
		MaxParallelTools:        cfg.Limits.MaxParallelTools,
		PerCallTimeout:          cfg.Limits.PerCallTimeout,
		OverallDeadline:         cfg.Limits.OverallDeadline,
		CompactionHighWaterMark: cfg.Store.CompactionHighWaterMark,
		CompactionLowWaterMark:  cfg.Store.CompactionLowWaterMark,
	})

	dispatcher := channel.NewDispatcher(driver, store, slog.Default())

	return &gateway{
		cfg:        cfg,
		store:      store,
		auditor:    auditor,
		mcpManager: mcpManager,
		driver:     driver,
		dispatcher: dispatcher,
	}, nil
}

func (g *gateway) Close() error {
	var firstErr error
	if err := g.mcpManager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := g.auditor.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// registerBuiltins registers every built-in tool against fsCfg/cfg (spec §4.3).
// Registration fails only on a duplicate name or a tool schema that does
// not compile, either of which would be a programming error in this list,
// not a runtime condition — panic rather
// than silently starting with a hollowed-out tool set.
func registerBuiltins(registry *tools.Registry, fsCfg builtin.FSConfig, cfg *config.Config, store *sessions.SQLiteStore) {
	memStore := memory.NewSQLiteStore(store.DB())
	bashTimeout := cfg.Limits.BashTimeout

	all := []tools.Tool{
		builtin.NewReadTool(fsCfg),
		builtin.NewWriteTool(fsCfg),
		builtin.NewEditTool(fsCfg),
		builtin.NewGlobTool(fsCfg),
		builtin.NewLsTool(fsCfg),
		builtin.NewGrepTool(fsCfg),
		builtin.NewApplyPatchTool(fsCfg),
		builtin.NewBashTool(fsCfg, bashTimeout),
		builtin.NewWebSearchTool(builtin.WebConfig{}),
		builtin.NewWebFetchTool(builtin.WebConfig{}),
		builtin.NewMemoryPutTool(memStore),
		builtin.NewMemoryGetTool(memStore),
	}
	for _, t := range all {
		if err := registry.Register(t); err != nil {
			panic(fmt.Sprintf("gatewayd: register builtin tool %q: %v", t.Name(), err))
		}
	}
}

func defaultModelFor(dialect string) string {
	switch dialect {
	case "openai":
		return "gpt-4o"
	default:
		return "claude-sonnet-4-5"
	}
}
