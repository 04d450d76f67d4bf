package contextkeys

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func TestClaims(t *testing.T) {
	_, ok := GetClaims(context.Background())
	assert.False(t, ok)

	claims := &auth.Claims{Email: "alice@acme.test", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	ctx := WithClaims(context.Background(), claims)

	got, ok := GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", got.Subject)

	_, ok = GetClaims(WithClaims(context.Background(), nil))
	assert.False(t, ok)
}

func TestRateLimitKey(t *testing.T) {
	assert.Empty(t, GetRateLimitKey(context.Background()))
	assert.Equal(t, "ip:192.0.2.1", GetRateLimitKey(WithRateLimitKey(context.Background(), "ip:192.0.2.1")))
}
