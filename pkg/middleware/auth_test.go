package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

type stubVerifier struct {
	tokens map[string]*auth.Claims
}

func (s *stubVerifier) Verify(raw string) (*auth.Claims, error) {
	if claims, ok := s.tokens[raw]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidSessionToken
}

func TestSessionAuth(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*auth.Claims{
		"good": {Email: "alice@acme.test", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}},
	}}

	var seen *auth.Claims
	handler := NewSessionAuth(verifier, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromRequest(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer good", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"unknown token", "Bearer forged", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusNoContent {
				assert.Nil(t, seen)
				var body httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, string(auth.CodeInvalidSessionToken), body.Code)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "user-1", seen.Subject)
		})
	}
}

func TestClaimsFromRequest_NoClaims(t *testing.T) {
	assert.Nil(t, ClaimsFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)))
}
