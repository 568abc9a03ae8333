// Package providers implements the two provider dialects the gateway speaks
// to an upstream LLM API: Anthropic-native and OpenAI-compatible (spec §4.2,
// §6). Each dialect normalizes requests and responses to the internal
// models.ProviderRequest/ProviderResponse shapes; retry/backoff policy lives
// in the agent driver, not here, so a dialect's Complete performs exactly
// one network round trip.
package providers

import (
	"context"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// Provider is the dialect-agnostic interface the agent driver calls once per
// iteration of the tool-use loop.
type Provider interface {
	// Complete sends req and returns the normalized response. A non-nil
	// error is always a *Error (see errors.go); the caller classifies it
	// for retry eligibility.
	Complete(ctx context.Context, req models.ProviderRequest) (models.ProviderResponse, error)

	// Dialect identifies this provider; it is recorded as Error.Dialect on
	// every error Complete returns (e.g. "anthropic", "openai-compatible").
	Dialect() string
}
