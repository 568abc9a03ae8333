// Package tools implements the Tool Registry (spec §4.3): tool
// registration, JSON-Schema input validation, and dispatch, plus the
// built-in tool family under tools/builtin.
package tools

import (
	"context"
	"encoding/json"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// Result is what a Tool.Execute call returns: either an output string or an
// error outcome the agent driver renders as a tool_result block.
type Result struct {
	Output  string
	IsError bool
}

// Tool is one invocable capability the agent driver may dispatch.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Sensitivity() models.Sensitivity
	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}
