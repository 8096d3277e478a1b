// Package llm provides the provider configuration and client abstractions used to
// call language models. A Config is an immutable value: callers take a snapshot
// from a ConfigStore and build a Client from it for the duration of one operation.
package llm

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierStandard is used for per-candidate scoring
	TierStandard ModelTier = "standard"
	// TierAdvanced is used for criteria generation and refinement
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderAnthropic speaks the Anthropic Messages API
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI speaks the OpenAI chat completions API, including compatible servers
	ProviderOpenAI Provider = "openai"
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

const (
	// DefaultMaxTokens bounds the output of a single call
	DefaultMaxTokens = 4000
	// DefaultTimeout bounds a single call including retries
	DefaultTimeout = 2 * time.Minute
	// DefaultMaxRetries is the SDK-level retry budget for retryable statuses
	DefaultMaxRetries = 2
)

// Config holds the provider configuration for one or more calls.
// Treat it as a value: use WithModel and friends to derive a modified copy.
type Config struct {
	Provider    Provider             `json:"provider" mapstructure:"provider"`
	Model       string               `json:"model" mapstructure:"model"`
	Models      map[ModelTier]string `json:"models,omitempty" mapstructure:"models"`
	BaseURL     string               `json:"base_url,omitempty" mapstructure:"base_url"`
	APIKey      string               `json:"api_key,omitempty" mapstructure:"api_key"`
	MaxTokens   int                  `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature float64              `json:"temperature" mapstructure:"temperature"`
	MaxRetries  int                  `json:"max_retries,omitempty" mapstructure:"max_retries"`
	Timeout     time.Duration        `json:"timeout,omitempty" mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration (Anthropic with no credentials)
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderAnthropic,
		Model:      DefaultModel(ProviderAnthropic),
		MaxTokens:  DefaultMaxTokens,
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
	}
}

// DefaultModel returns the model used when a configuration names none.
func DefaultModel(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return ""
	}
}

// ParseProvider converts a user-supplied provider name.
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderGemini:
		return ProviderGemini, nil
	default:
		return "", fmt.Errorf("unknown provider %q (expected anthropic, openai or gemini)", name)
	}
}

// GetModel returns the model name for a given tier, falling back to Model.
func (c Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok && model != "" {
		return model
	}
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel(c.Provider)
}

// WithModel returns a new Config with a specific model for a tier
func (c Config) WithModel(tier ModelTier, model string) Config {
	next := c.clone()
	if next.Models == nil {
		next.Models = make(map[ModelTier]string)
	}
	next.Models[tier] = model
	return next
}

// WithDefaults fills zero values with package defaults.
func (c Config) WithDefaults() Config {
	next := c.clone()
	if next.Provider == "" {
		next.Provider = ProviderAnthropic
	}
	if next.Model == "" {
		next.Model = DefaultModel(next.Provider)
	}
	if next.MaxTokens == 0 {
		next.MaxTokens = DefaultMaxTokens
	}
	if next.Timeout == 0 {
		next.Timeout = DefaultTimeout
	}
	return next
}

// Validate checks that the configuration can be used to build a client.
// Missing credentials are not a validation error; NewClient reports them as ErrNotConfigured.
func (c Config) Validate() error {
	if _, err := ParseProvider(string(c.Provider)); err != nil {
		return err
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL: %q", c.BaseURL)
		}
	}
	return nil
}

// HasCredentials reports whether a client can be built. OpenAI-compatible
// servers reached through a custom base URL may not require a key.
func (c Config) HasCredentials() bool {
	if c.APIKey != "" {
		return true
	}
	return c.Provider == ProviderOpenAI && c.BaseURL != ""
}

// Redacted returns a copy safe to log or return over the API.
func (c Config) Redacted() Config {
	next := c.clone()
	next.APIKey = maskKey(c.APIKey)
	return next
}

func (c Config) clone() Config {
	next := c
	if c.Models != nil {
		next.Models = make(map[ModelTier]string, len(c.Models))
		for k, v := range c.Models {
			next.Models[k] = v
		}
	}
	return next
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
