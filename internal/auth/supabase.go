package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SupabaseValidator asks the identity provider's user endpoint to resolve a
// token. It is used when no JWT secret is configured.
type SupabaseValidator struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewSupabaseValidator creates a SupabaseValidator.
func NewSupabaseValidator(baseURL, anonKey string) *SupabaseValidator {
	return &SupabaseValidator{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate implements Validator.
func (v *SupabaseValidator) Validate(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.anonKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity provider returned %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode identity provider response: %w", err)
	}
	if body.ID == "" {
		return "", ErrUnauthorized
	}
	return body.ID, nil
}
