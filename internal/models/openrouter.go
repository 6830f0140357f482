package models

import (
	"strings"
	"time"
)

// OpenRouterBaseURL is OpenRouter's OpenAI-compatible endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterClient creates a client against OpenRouter. Model names are
// routed as "openrouter/<model>" unless already qualified.
func NewOpenRouterClient(apiKey, model string, timeout time.Duration) (*OpenAIClient, error) {
	if model != "" && !strings.Contains(model, "/") {
		model = "openrouter/" + model
	}
	return NewOpenAIClient(OpenAIConfig{
		Provider: "openrouter",
		APIKey:   apiKey,
		BaseURL:  OpenRouterBaseURL,
		Model:    model,
		Timeout:  timeout,
	})
}

// NewCompletionClient picks the OpenAI-compatible provider by name.
func NewCompletionClient(provider, apiKey, baseURL, model string, timeout time.Duration) (*OpenAIClient, error) {
	switch strings.ToLower(provider) {
	case "", "groq":
		return NewGroqClient(apiKey, baseURL, model, timeout)
	case "openrouter":
		return NewOpenRouterClient(apiKey, model, timeout)
	default:
		return NewOpenAIClient(OpenAIConfig{
			Provider: provider,
			APIKey:   apiKey,
			BaseURL:  baseURL,
			Model:    model,
			Timeout:  timeout,
		})
	}
}
