package llm

import (
	"context"
	"errors"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client for OpenAI and OpenAI-compatible servers
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates a new OpenAI-compatible client
func NewOpenAIClient(cfg Config) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// GenerateJSON sends one chat completion and returns the JSON object it produced
func (c *OpenAIClient) GenerateJSON(ctx context.Context, system, user string, tier ModelTier) (*Response, error) {
	model := c.config.GetModel(tier)

	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: openAITemperature(c.config.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// Compatible servers behind a custom base URL often reject response_format
	if c.config.BaseURL == "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(ProviderOpenAI, err, openAIStatus(err))
	}

	usage := Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		return nil, &MalformedResponseError{Provider: ProviderOpenAI, Message: "no choices in response", Usage: usage}
	}

	return finishJSON(ProviderOpenAI, model, resp.Choices[0].Message.Content, usage)
}

// ListModels returns the model identifiers served by the endpoint
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, classifyError(ProviderOpenAI, err, openAIStatus(err))
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

// Provider returns ProviderOpenAI
func (c *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

// Close is a no-op; the HTTP client holds no dedicated resources
func (c *OpenAIClient) Close() error {
	return nil
}

// openAITemperature works around omitempty dropping an explicit zero.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
