package middleware

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// TokenVerifier checks a raw session token
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// SessionAuth requires a valid Bearer session token and stores its claims
// in the request context
type SessionAuth struct {
	verifier TokenVerifier
	logger   *observability.Logger
}

// NewSessionAuth creates session authentication middleware
func NewSessionAuth(verifier TokenVerifier, logger *observability.Logger) *SessionAuth {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SessionAuth{verifier: verifier, logger: logger}
}

// Handler wraps an HTTP handler with session authentication
func (m *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := httputil.BearerToken(r)
		if !ok {
			httputil.WriteCodedError(w, http.StatusUnauthorized, string(auth.CodeInvalidSessionToken), "missing bearer token")
			return
		}

		claims, err := m.verifier.Verify(raw)
		if err != nil {
			observability.FromContext(r.Context(), m.logger).WithError(err).Debug("session token rejected")
			httputil.WriteCodedError(w, http.StatusUnauthorized, string(auth.CodeInvalidSessionToken), auth.PublicMessage(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithClaims(r.Context(), claims)))
	})
}

// ClaimsFromRequest returns the session claims stored by SessionAuth
func ClaimsFromRequest(r *http.Request) *auth.Claims {
	claims, _ := contextkeys.GetClaims(r.Context())
	return claims
}
