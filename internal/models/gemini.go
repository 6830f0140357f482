package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/easeaico/soullink/internal/types"
)

// GeminiClient serves completions and structured JSON output through Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: strings.TrimSpace(model)}, nil
}

// Model returns the configured model name.
func (g *GeminiClient) Model() string {
	return g.model
}

// Complete implements Completer. System turns become the system instruction.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	system, contents := splitContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, "user")
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return g.generate(ctx, contents, config)
}

// GenerateJSON asks for a JSON object matching schema and decodes it into out.
func (g *GeminiClient) GenerateJSON(ctx context.Context, instruction, input string, schema *genai.Schema, out any) error {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, "user"),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}
	text, err := g.generate(ctx, genai.Text(input), config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return fmt.Errorf("failed to parse gemini json: %w", err)
	}
	return nil
}

func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		perr := &ProviderError{Provider: "gemini", Model: g.model, Err: err}
		var apiErr genai.APIError
		var apiErrPtr *genai.APIError
		switch {
		case errors.As(err, &apiErr):
			perr.Status = apiErr.Code
			perr.Transient = transientStatus(apiErr.Code)
		case errors.As(err, &apiErrPtr):
			perr.Status = apiErrPtr.Code
			perr.Transient = transientStatus(apiErrPtr.Code)
		case errors.Is(err, context.DeadlineExceeded):
			perr.Transient = true
		}
		return "", perr
	}
	if resp == nil {
		return "", &ProviderError{Provider: "gemini", Model: g.model, Err: ErrEmptyResponse}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &ProviderError{Provider: "gemini", Model: g.model, Err: ErrEmptyResponse}
	}
	return text, nil
}

func splitContents(turns []types.ChatTurn) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			system = append(system, t.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, "model"))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, "user"))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

// extractJSON trims anything outside the outermost JSON object.
func extractJSON(raw string) string {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		return clean[start : end+1]
	}
	return clean
}
