package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini requires an API key", ErrNotConfigured)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
	}, nil
}

// GenerateJSON generates a JSON object using the model configured for tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, system, user string, tier ModelTier) (*Response, error) {
	modelName := c.config.GetModel(tier)

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(float32(c.config.Temperature))
	model.SetMaxOutputTokens(int32(c.config.MaxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, &MalformedResponseError{Provider: ProviderGemini, Message: err.Error(), Usage: usage}
	}

	return finishJSON(ProviderGemini, modelName, text, usage)
}

// ListModels returns the Gemini model names without the "models/" prefix
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	it := c.client.ListModels(ctx)

	var models []string
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		models = append(models, strings.TrimPrefix(m.Name, "models/"))
	}
	return models, nil
}

// Provider returns ProviderGemini
func (c *GeminiClient) Provider() Provider {
	return ProviderGemini
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyError(ProviderGemini, err, apiErr.Code)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return &UnreachableError{Provider: ProviderGemini, Cause: err}
		case codes.ResourceExhausted:
			return &TransportError{Provider: ProviderGemini, StatusCode: 429, Cause: err}
		case codes.InvalidArgument, codes.FailedPrecondition:
			return &TransportError{Provider: ProviderGemini, StatusCode: 400, Cause: err}
		case codes.Unauthenticated, codes.PermissionDenied:
			return &TransportError{Provider: ProviderGemini, StatusCode: 403, Cause: err}
		}
	}
	return classifyError(ProviderGemini, err, 0)
}
