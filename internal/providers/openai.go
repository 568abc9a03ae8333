package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// OpenAIProvider speaks the OpenAI-compatible chat-completions dialect
// (spec §4.2, §6), used for self-hosted and third-party endpoints exposing
// that wire format (config.ProviderConfig.BaseURL overrides the default).
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a client against apiKey. baseURL, when set,
// targets an OpenAI-compatible endpoint other than api.openai.com.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Dialect() string { return "openai-compatible" }

func (p *OpenAIProvider) Complete(ctx context.Context, req models.ProviderRequest) (models.ProviderResponse, error) {
	if p.client == nil {
		return models.ProviderResponse{}, wrapError(p.Dialect(), req.Model, errors.New("provider not configured"))
	}

	messages, err := openaiMessages(req)
	if err != nil {
		return models.ProviderResponse{}, wrapError(p.Dialect(), req.Model, fmt.Errorf("convert messages: %w", err))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Stop:        req.StopSequences,
		Temperature: float32(req.Temperature),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		pe := wrapError(p.Dialect(), req.Model, err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			pe = withStatus(pe, apiErr.HTTPStatusCode)
		}
		return models.ProviderResponse{}, pe
	}
	if len(resp.Choices) == 0 {
		return models.ProviderResponse{}, wrapError(p.Dialect(), req.Model, errors.New("empty choices"))
	}

	return openaiResponse(resp), nil
}

func openaiMessages(req models.ProviderRequest) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, m := range req.Messages {
		var text string
		var toolCalls []openai.ToolCall
		var toolResults []models.Block

		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockText:
				text += b.Text
			case models.BlockToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolName,
						Arguments: string(b.ToolInput),
					},
				})
			case models.BlockToolResult:
				toolResults = append(toolResults, b)
			case models.BlockThinking:
				// storage-only, not replayed (spec §9)
			}
		}

		if len(toolResults) > 0 {
			for _, tr := range toolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Output,
					ToolCallID: tr.ToolResultForID,
				})
			}
			continue
		}

		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: text}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
		}
		out = append(out, msg)
	}
	return out, nil
}

func openaiTools(tools []models.ToolManifestEntry) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func openaiResponse(resp openai.ChatCompletionResponse) models.ProviderResponse {
	choice := resp.Choices[0]
	out := models.ProviderResponse{
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, models.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Blocks = append(out.Blocks, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		out.StopReason = models.StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = models.StopMaxTokens
	case openai.FinishReasonStop:
		if len(choice.Message.ToolCalls) > 0 {
			out.StopReason = models.StopToolUse
		} else {
			out.StopReason = models.StopEndTurn
		}
	default:
		out.StopReason = models.StopEndTurn
	}
	return out
}
