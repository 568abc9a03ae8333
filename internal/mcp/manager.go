package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// Manager owns every configured MCP server connection for one gatewayd
// process, grounded on the teacher's internal/mcp/manager.go Manager —
// trimmed to what cmd/gatewayd's serve command needs: connect everything
// at startup, register their tools, and close everything at shutdown.
type Manager struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager builds an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "mcp"), clients: make(map[string]*Client)}
}

// ConnectAll connects to every configured server and registers its tools
// into registry. A server that fails to connect is logged and skipped
// rather than failing the whole startup — one misbehaving MCP host
// shouldn't take the gateway down.
func (m *Manager) ConnectAll(ctx context.Context, servers []ServerConfig, registry *tools.Registry) {
	for i := range servers {
		cfg := servers[i]
		client := NewClient(&cfg, m.logger)
		if err := client.Connect(ctx); err != nil {
			m.logger.Error("failed to connect to MCP server", "server", cfg.ID, "error", err)
			continue
		}

		m.mu.Lock()
		m.clients[cfg.ID] = client
		m.mu.Unlock()

		for _, tool := range NewRegistryTools(cfg.ID, client) {
			if err := registry.Register(tool); err != nil {
				m.logger.Error("failed to register MCP tool", "server", cfg.ID, "tool", tool.Name(), "error", err)
			}
		}
		m.logger.Info("registered MCP server tools", "server", cfg.ID, "count", len(client.Tools()))
	}
}

// Close disconnects every connected server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, client := range m.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: closing server %s: %w", id, err)
		}
	}
	m.clients = make(map[string]*Client)
	return firstErr
}
