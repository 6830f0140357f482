// Package auth validates identity-provider bearer tokens and provisions local users.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/easeaico/soullink/internal/cache"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// ErrUnauthorized is returned for a missing, invalid or expired token.
var ErrUnauthorized = errors.New("invalid or expired token")

// TokenTTL is how long a validated token maps to its user id without a
// round-trip to the identity provider.
const TokenTTL = 60 * time.Second

// DefaultIdentityAnchor is the anchor of the first mask of a new user.
const DefaultIdentityAnchor = "The Original"

// Validator resolves a raw token to the provider's user id.
type Validator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// UserStore is the persistence JIT provisioning needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	CreateUserWithPersona(ctx context.Context, user types.User, persona types.UserPersona) (*types.User, error)
}

// Authenticator caches token validation and provisions users on first sight.
type Authenticator struct {
	validator Validator
	users     UserStore
	tokens    *cache.TTL[string]
}

// NewAuthenticator creates an Authenticator with a TokenTTL cache.
func NewAuthenticator(validator Validator, users UserStore) *Authenticator {
	return &Authenticator{
		validator: validator,
		users:     users,
		tokens:    cache.New[string](TokenTTL, 10000),
	}
}

// WithCache replaces the token cache.
func (a *Authenticator) WithCache(c *cache.TTL[string]) *Authenticator {
	a.tokens = c
	return a
}

// UserID validates token and returns the provider user id.
func (a *Authenticator) UserID(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthorized
	}
	return a.tokens.GetOrLoad(cacheKey(token), func() (string, error) {
		id, err := a.validator.Validate(ctx, token)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", ErrUnauthorized
		}
		return id, nil
	})
}

// Authenticate validates token and returns the local user, creating it on
// first sight.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*types.User, error) {
	id, err := a.UserID(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.Provision(ctx, id)
}

// Provision returns the local user row for id, creating the user and a
// default active mask when missing.
func (a *Authenticator) Provision(ctx context.Context, id string) (*types.User, error) {
	user, err := a.users.GetUser(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	username := GuestName(id)
	user, err = a.users.CreateUserWithPersona(ctx, types.User{
		ID:              id,
		Username:        username,
		AccountTier:     "free",
		CurrentTimeSlot: types.SlotMorning,
	}, types.UserPersona{
		ScreenName:     username,
		IdentityAnchor: DefaultIdentityAnchor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	slog.Info("user provisioned", "user_id", id, "username", username)
	return user, nil
}

// GuestName derives the default username from a provider id.
func GuestName(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return "Guest-" + short
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:uuid:" + hex.EncodeToString(sum[:])[:32]
}

type ctxKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the authenticated user of ctx, or nil.
func UserFrom(ctx context.Context) *types.User {
	user, _ := ctx.Value(ctxKey{}).(*types.User)
	return user
}
