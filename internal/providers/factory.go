package providers

import "fmt"

// New selects a Provider by config dialect ("claude" or "openai"), each
// pointed at apiKey/baseURL resolved by the caller from config.ProviderConfig.
func New(dialect, apiKey, baseURL string) (Provider, error) {
	switch dialect {
	case "claude", "anthropic":
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("providers: unknown dialect %q", dialect)
	}
}
