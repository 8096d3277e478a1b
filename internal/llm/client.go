package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Usage reports the tokens consumed by one call
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the sum of two usages
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// IsZero reports whether no tokens were recorded
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Response is a validated JSON object returned by a provider
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Decode unmarshals the response JSON into v
func (r *Response) Decode(v any) error {
	return json.Unmarshal([]byte(r.Text), v)
}

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateJSON sends a system and user instruction and returns a JSON object
	GenerateJSON(ctx context.Context, system, user string, tier ModelTier) (*Response, error)
	// ListModels returns the model identifiers the provider offers
	ListModels(ctx context.Context) ([]string, error)
	// Provider returns the provider this client talks to
	Provider() Provider
	// Close releases any resources held by the client
	Close() error
}

// Factory builds a client for one configuration snapshot
type Factory func(ctx context.Context, cfg Config) (Client, error)

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("%w: %s requires an API key", ErrNotConfigured, cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNotConfigured, cfg.Provider)
	}
}

// finishJSON turns raw provider text into a Response, enforcing the JSON object contract.
func finishJSON(provider Provider, model, text string, usage Usage) (*Response, error) {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return nil, &MalformedResponseError{Provider: provider, Message: "empty response", Raw: text, Usage: usage}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, &MalformedResponseError{
			Provider: provider,
			Message:  "response is not a JSON object",
			Raw:      text,
			Usage:    usage,
			Cause:    err,
		}
	}

	return &Response{Text: cleaned, Model: model, Usage: usage}, nil
}
