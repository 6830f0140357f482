// Package models adapts completion providers behind a single Completer.
package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/easeaico/soullink/internal/types"
)

// ErrTransient marks upstream failures worth one retry: timeouts, 429 and 5xx.
var ErrTransient = errors.New("transient upstream failure")

// ErrEmptyResponse is returned when a provider answers without text.
var ErrEmptyResponse = errors.New("empty completion response")

// Request is one completion call.
type Request struct {
	Messages    []types.ChatTurn
	Temperature float64
	MaxTokens   int
}

// Completer turns a message list into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransient) match retryable provider errors.
func (e *ProviderError) Is(target error) bool {
	return target == ErrTransient && e.Transient
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}
