package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity-provider token claims the server reads.
type Claims struct {
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator checks HS256 tokens signed with the project secret locally.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a JWTValidator.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// Validate implements Validator. The subject claim is the user id.
func (v *JWTValidator) Validate(ctx context.Context, token string) (string, error) {
	claims, err := v.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse verifies the signature and expiry and returns the claims.
func (v *JWTValidator) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
