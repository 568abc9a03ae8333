package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/pkg/ids"
)

// AnthropicProvider speaks the Anthropic-native Messages API (spec §4.2,
// §6). Unlike a chat assistant, the gateway's agent driver owns retries and
// turn iteration, so Complete performs exactly one request/response cycle.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a client against apiKey, optionally pointed
// at baseURL (e.g. a proxy or compatible gateway).
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Dialect() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req models.ProviderRequest) (models.ProviderResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, s := range req.StopSequences {
		params.StopSequences = append(params.StopSequences, s)
	}

	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return models.ProviderResponse{}, wrapError(p.Dialect(), req.Model, fmt.Errorf("convert messages: %w", err))
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return models.ProviderResponse{}, wrapError(p.Dialect(), req.Model, fmt.Errorf("convert tools: %w", err))
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		pe := wrapError(p.Dialect(), req.Model, err)
		if asAnthropicError(err, &apiErr) {
			pe = withStatus(pe, apiErr.StatusCode)
		}
		return models.ProviderResponse{}, pe
	}

	return anthropicResponse(msg), nil
}

// asAnthropicError is a tiny indirection so tests can stub the type switch
// without importing anthropic internals directly.
func asAnthropicError(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func anthropicMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case models.BlockToolUse:
				var input map[string]any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("tool_use %s input: %w", b.ToolUseID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolResultForID, b.Output, b.IsError))
			case models.BlockThinking:
				// Opaque thinking blocks are not replayed to the provider;
				// they are storage-only (spec §9).
			}
		}
		if len(content) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func anthropicTools(tools []models.ToolManifestEntry) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: malformed tool param", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}

func anthropicResponse(msg *anthropic.Message) models.ProviderResponse {
	resp := models.ProviderResponse{
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, models.TextBlock(block.Text))
		case "thinking":
			resp.Blocks = append(resp.Blocks, models.Block{Type: models.BlockThinking, Text: block.Thinking})
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			id := block.ID
			if id == "" {
				id = ids.New()
			}
			resp.Blocks = append(resp.Blocks, models.ToolUseBlock(id, block.Name, input))
		}
	}
	switch msg.StopReason {
	case "tool_use":
		resp.StopReason = models.StopToolUse
	case "max_tokens":
		resp.StopReason = models.StopMaxTokens
	case "stop_sequence":
		resp.StopReason = models.StopStopSequence
	default:
		resp.StopReason = models.StopEndTurn
	}
	return resp
}
