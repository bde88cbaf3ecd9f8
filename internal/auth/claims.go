// Package auth verifies the bearer tokens issued by the user service and
// exposes the caller's identity to handlers.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued at login.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the verified caller, or nil outside RequireUser.
func ClaimsFromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
