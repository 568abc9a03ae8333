package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// toolSensitivity is the conservative default applied to every MCP-backed
// tool. Unlike the builtins, an MCP server's capability is opaque at
// registration time (spec §4.3 "Tool trait ... an opaque MCP-backed
// variant"); spec §4.4's sensitivity table has no MCP row, so this module
// treats MCP tools the same as any other tool capable of unreviewed
// external side effects (same tier as external-API-posting builtins)
// rather than assuming they are read-only.
const toolSensitivity = models.SensitivityExternalPosting

// adaptedTool presents one MCP server's tool as a tools.Tool, grounded on
// spec §4.3's "tagged set of concrete tool variants plus an opaque
// MCP-backed variant" — this is that opaque variant.
type adaptedTool struct {
	client   *Client
	serverID string
	def      *Tool
}

// NewRegistryTools adapts every tool client currently advertises into
// tools.Tool values, name-prefixed by the owning server ID so two servers
// may both expose e.g. "search" without colliding in the Registry.
func NewRegistryTools(serverID string, client *Client) []tools.Tool {
	defs := client.Tools()
	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, &adaptedTool{client: client, serverID: serverID, def: def})
	}
	return out
}

func (t *adaptedTool) Name() string { return fmt.Sprintf("mcp_%s_%s", t.serverID, t.def.Name) }

func (t *adaptedTool) Description() string {
	if t.def.Description != "" {
		return fmt.Sprintf("[%s] %s", t.serverID, t.def.Description)
	}
	return fmt.Sprintf("tool %q exposed by MCP server %s", t.def.Name, t.serverID)
}

func (t *adaptedTool) Schema() json.RawMessage {
	if len(t.def.InputSchema) > 0 {
		return t.def.InputSchema
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (t *adaptedTool) Sensitivity() models.Sensitivity { return toolSensitivity }

func (t *adaptedTool) Execute(ctx context.Context, input json.RawMessage) (tools.Result, error) {
	result, err := t.client.CallTool(ctx, t.def.Name, input)
	if err != nil {
		return tools.Result{Output: err.Error(), IsError: true}, nil
	}

	var parts []string
	for _, c := range result.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	output := strings.Join(parts, "\n")
	if output == "" && len(result.Content) > 0 {
		// Non-text content (images, embedded resources) has no plain-text
		// rendering spec.md's tool_result contract can carry; fall back to
		// a marshaled summary rather than silently dropping it.
		if raw, err := json.Marshal(result.Content); err == nil {
			output = string(raw)
		}
	}
	return tools.Result{Output: output, IsError: result.IsError}, nil
}
