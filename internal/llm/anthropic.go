package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client for the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	config Config
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg Config) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}
}

// GenerateJSON sends one message and returns the JSON object it produced
func (c *AnthropicClient) GenerateJSON(ctx context.Context, system, user string, tier ModelTier) (*Response, error) {
	model := c.config.GetModel(tier)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: anthropic.Float(c.config.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, classifyError(ProviderAnthropic, err, anthropicStatus(err))
	}

	usage := Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &MalformedResponseError{Provider: ProviderAnthropic, Message: "no text content in response", Usage: usage}
	}

	return finishJSON(ProviderAnthropic, model, sb.String(), usage)
}

// ListModels returns the model identifiers available to the API key
func (c *AnthropicClient) ListModels(ctx context.Context) ([]string, error) {
	pager := c.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})

	var models []string
	for pager.Next() {
		models = append(models, pager.Current().ID)
	}
	if err := pager.Err(); err != nil {
		return nil, classifyError(ProviderAnthropic, err, anthropicStatus(err))
	}
	return models, nil
}

// Provider returns ProviderAnthropic
func (c *AnthropicClient) Provider() Provider {
	return ProviderAnthropic
}

// Close is a no-op for the HTTP based client
func (c *AnthropicClient) Close() error {
	return nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
