// Package contextkeys provides centralized context key definitions
//
// All context keys shared across packages are defined here so that readers
// and writers agree on the key and the value type.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithClaims(ctx, claims)
//	claims, ok := contextkeys.GetClaims(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.Claims
	// Set by: middleware.SessionAuth (pkg/middleware/auth.go)
	// Required by: /auth/me and any handler behind session auth
	// Type: *auth.Claims
	ClaimsKey Key = "session_claims"

	// RateLimitKey contains the string the rate limiter bucketed the request under
	// Set by: middleware.RateLimit
	// Type: string
	RateLimitKey Key = "rate_limit_key"
)

// WithClaims stores verified session claims in the context
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims returns the verified session claims, if any
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// WithRateLimitKey records the limiter bucket for the request
func WithRateLimitKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, RateLimitKey, key)
}

// GetRateLimitKey returns the limiter bucket recorded for the request
func GetRateLimitKey(ctx context.Context) string {
	key, _ := ctx.Value(RateLimitKey).(string)
	return key
}
