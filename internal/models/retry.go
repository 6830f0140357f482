package models

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Retrier retries transient failures once after a jittered pause.
type Retrier struct {
	next      Completer
	base      time.Duration
	maxJitter time.Duration
}

// Retry wraps next. Only errors matching ErrTransient are retried.
func Retry(next Completer) *Retrier {
	return &Retrier{next: next, base: 250 * time.Millisecond, maxJitter: 500 * time.Millisecond}
}

// WithBackoff overrides the pause before the retry.
func (r *Retrier) WithBackoff(base, maxJitter time.Duration) *Retrier {
	r.base = base
	r.maxJitter = maxJitter
	return r
}

// Complete implements Completer.
func (r *Retrier) Complete(ctx context.Context, req Request) (string, error) {
	text, err := r.next.Complete(ctx, req)
	if err == nil || !errors.Is(err, ErrTransient) {
		return text, err
	}

	wait := r.base
	if r.maxJitter > 0 {
		wait += rand.N(r.maxJitter)
	}
	slog.Warn("retrying completion after transient failure", "wait", wait, "error", err)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", err
	case <-timer.C:
	}
	return r.next.Complete(ctx, req)
}
