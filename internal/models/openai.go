package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/easeaico/soullink/internal/types"
)

// OpenAIConfig configures an OpenAI-compatible chat client.
type OpenAIConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client   openai.Client
	provider string
	model    string
}

// NewOpenAIClient creates a client. Retries are left to Retry.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	// Create header value once, when the client is created
	headerValue := fmt.Sprintf("soullink-%s/%s go/%s",
		cfg.Provider, "1.0.0", strings.TrimPrefix(runtime.Version(), "go"))

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", headerValue),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		provider: cfg.Provider,
		model:    cfg.Model,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends the message list and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, buildParams(req, c.model))
	if err != nil {
		slog.Error("failed to call llm API", "provider", c.provider, "model", c.model, "error", err.Error())
		return "", c.wrap(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: c.provider, Model: c.model, Err: ErrEmptyResponse}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &ProviderError{Provider: c.provider, Model: c.model, Err: ErrEmptyResponse}
	}
	return text, nil
}

func (c *OpenAIClient) wrap(err error) error {
	perr := &ProviderError{Provider: c.provider, Model: c.model, Err: err}
	var apiErr *openai.Error
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		perr.Status = apiErr.StatusCode
		perr.Transient = transientStatus(apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		perr.Transient = true
	case errors.As(err, &netErr):
		perr.Transient = true
	}
	return perr
}

// buildParams converts a Request to chat completion parameters.
func buildParams(req Request, model string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func convertMessages(turns []types.ChatTurn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case types.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	return messages
}
