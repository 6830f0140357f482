package models

import "time"

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqClient creates a client against Groq. An empty baseURL selects GroqBaseURL.
func NewGroqClient(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	return NewOpenAIClient(OpenAIConfig{
		Provider: "groq",
		APIKey:   apiKey,
		BaseURL:  baseURL,
		Model:    model,
		Timeout:  timeout,
	})
}
