package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/authflow"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

var expiresAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

type stubAuthenticator struct {
	validate  func(email, password string, reqCtx auth.RequestContext) (*auth.SessionToken, error)
	refresh   func(raw string) (*auth.SessionToken, error)
	begin     func(orgRef, returnURL string) (string, error)
	samlCB    func(samlResponse, relayState string) (*authflow.SSOResult, error)
	oidcCB    func(code, state string) (*authflow.SSOResult, error)
	lastReqIP string
}

func (s *stubAuthenticator) ValidateCredentials(_ context.Context, email, password string, reqCtx auth.RequestContext) (*auth.SessionToken, error) {
	s.lastReqIP = reqCtx.IPAddress
	return s.validate(email, password, reqCtx)
}

func (s *stubAuthenticator) RefreshToken(_ context.Context, raw string) (*auth.SessionToken, error) {
	return s.refresh(raw)
}

func (s *stubAuthenticator) BeginSSOLogin(_ context.Context, orgRef, returnURL string) (string, error) {
	return s.begin(orgRef, returnURL)
}

func (s *stubAuthenticator) HandleSAMLCallback(_ context.Context, samlResponse, relayState string) (*authflow.SSOResult, error) {
	return s.samlCB(samlResponse, relayState)
}

func (s *stubAuthenticator) HandleOIDCCallback(_ context.Context, code, state string) (*authflow.SSOResult, error) {
	return s.oidcCB(code, state)
}

type stubVerifier map[string]*auth.Claims

func (v stubVerifier) Verify(raw string) (*auth.Claims, error) {
	if c, ok := v[raw]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidSessionToken
}

func token(value string) *auth.SessionToken {
	return &auth.SessionToken{AccessToken: value, TokenType: auth.TokenTypeBearer, ExpiresAt: expiresAt}
}

func ssoResult(returnURL string) *authflow.SSOResult {
	return &authflow.SSOResult{
		Token:       token("sso-token"),
		User:        &auth.User{ID: "user-1", Email: "alice@acme.test"},
		OrgID:       "org-acme",
		ReturnURL:   returnURL,
		UserCreated: true,
	}
}

type testEnv struct {
	auth   *stubAuthenticator
	users  *memory.UserStore
	router http.Handler
}

func newTestEnv(t *testing.T, limiter middleware.Limiter) *testEnv {
	t.Helper()

	stub := &stubAuthenticator{
		validate: func(email, password string, _ auth.RequestContext) (*auth.SessionToken, error) {
			if email == "alice@acme.test" && password == "Secret123" {
				return token("password-token"), nil
			}
			return nil, auth.ErrInvalidCredentials
		},
		refresh: func(raw string) (*auth.SessionToken, error) {
			if raw == "live" {
				return token("refreshed"), nil
			}
			return nil, auth.ErrInvalidSessionToken
		},
		begin: func(orgRef, returnURL string) (string, error) {
			switch orgRef {
			case "acme":
				return "https://idp.acme.test/sso?RelayState=" + url.QueryEscape(returnURL), nil
			case "dormant":
				return "", auth.ErrSsoInactive
			default:
				return "", auth.ErrSsoNotConfigured
			}
		},
		samlCB: func(samlResponse, relayState string) (*authflow.SSOResult, error) {
			if samlResponse == "seat-limit" {
				return nil, auth.ErrSeatLimitExceeded
			}
			return ssoResult(relayState), nil
		},
		oidcCB: func(code, state string) (*authflow.SSOResult, error) {
			if code == "boom" {
				return nil, errors.New("database exploded")
			}
			return ssoResult("/chat"), nil
		},
	}

	users := memory.NewUserStore()
	require.NoError(t, users.Create(context.Background(), &auth.User{ID: "user-1", Email: "alice@acme.test"}))

	sessions := middleware.NewSessionAuth(stubVerifier{
		"alice-session": {Email: "alice@acme.test", IsSuperAdmin: true, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}},
		"ghost-session": {Email: "ghost@acme.test", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-404"}},
	}, nil)

	handlers := NewAuthHandlers(Options{
		Authenticator: stub,
		Users:         users,
		Sessions:      sessions,
		Limiter:       limiter,
		ReturnHosts:   []string{"chat.acme.test"},
	})

	return &testEnv{
		auth:   stub,
		users:  users,
		router: NewRouter(observability.NewNopLogger(), observability.NewMetrics(nil), handlers),
	}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRegisterRoutes(t *testing.T) {
	router := mux.NewRouter()
	NewAuthHandlers(Options{Sessions: middleware.NewSessionAuth(stubVerifier{}, nil)}).RegisterRoutes(router)

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/auth/login"},
		{"POST", "/auth/refresh"},
		{"GET", "/auth/me"},
		{"GET", "/auth/sso/acme/login"},
		{"POST", "/auth/sso/saml/callback"},
		{"GET", "/auth/sso/oidc/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var match mux.RouteMatch
			assert.True(t, router.Match(httptest.NewRequest(tt.method, tt.path, nil), &match))
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("success", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"alice@acme.test","password":"Secret123"}`))
		r.Header.Set("Content-Type", "application/json")
		r.RemoteAddr = "192.0.2.10:4000"
		w := env.do(r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

		var body TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "password-token", body.AccessToken)
		assert.Equal(t, "Bearer", body.TokenType)
		assert.Equal(t, expiresAt.Unix(), body.ExpiresAt)
		assert.Equal(t, "192.0.2.10", env.auth.lastReqIP)
	})

	t.Run("wrong password", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"alice@acme.test","password":"nope"}`))
		w := env.do(r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "invalid_credentials", body.Code)
		assert.Equal(t, auth.PublicCredentialMessage, body.Error)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"alice@acme.test"}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestLogin_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	env := newTestEnv(t, limiter)

	send := func() int {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"alice@acme.test","password":"nope"}`))
		r.RemoteAddr = "198.51.100.1:1234"
		return env.do(r).Code
	}

	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	// Refresh is not limited
	r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	r.RemoteAddr = "198.51.100.1:1234"
	r.Header.Set("Authorization", "Bearer live")
	assert.Equal(t, http.StatusOK, env.do(r).Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer live", http.StatusOK},
		{"expired", "Bearer stale", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := env.do(r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), "refreshed")
			} else {
				assert.Equal(t, "invalid_session_token", decodeError(t, w).Code)
			}
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("current user", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "Bearer alice-session")
		w := env.do(r)

		require.Equal(t, http.StatusOK, w.Code)
		var body MeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "user-1", body.User.ID)
		assert.True(t, body.IsSuperAdmin)
		assert.NotContains(t, w.Body.String(), "password")
	})

	t.Run("deleted user", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "Bearer ghost-session")
		assert.Equal(t, http.StatusUnauthorized, env.do(r).Code)
	})

	t.Run("no session", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, env.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil)).Code)
	})
}

func TestSSOLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("redirects to the IdP", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/acme/login?returnUrl=/chat/general", nil))

		require.Equal(t, http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "idp.acme.test", loc.Host)
		assert.Equal(t, "/chat/general", loc.Query().Get("RelayState"))
	})

	t.Run("json clients get the url", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/sso/acme/login", nil)
		r.Header.Set("Accept", "application/json")
		w := env.do(r)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, strings.HasPrefix(body["redirect_url"], "https://idp.acme.test/sso"))
	})

	t.Run("open redirect collapses to root", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/acme/login?returnUrl="+url.QueryEscape("https://evil.test/x"), nil))

		require.Equal(t, http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/", loc.Query().Get("RelayState"))
	})

	t.Run("inactive", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/dormant/login", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "sso_inactive", decodeError(t, w).Code)
	})

	t.Run("not configured", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/initech/login", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "sso_not_configured", decodeError(t, w).Code)
	})
}

func postSAML(env *testEnv, samlResponse, relayState string, jsonClient bool) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Set("SAMLResponse", samlResponse)
	form.Set("RelayState", relayState)
	r := httptest.NewRequest(http.MethodPost, "/auth/sso/saml/callback", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if jsonClient {
		r.Header.Set("Accept", "application/json")
	}
	return env.do(r)
}

func TestSAMLCallback(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("browser redirect carries token in fragment", func(t *testing.T) {
		w := postSAML(env, "PHNhbWw+", "/chat/general", false)

		require.Equal(t, http.StatusSeeOther, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/chat/general", loc.Path)
		assert.Empty(t, loc.RawQuery)

		fragment, err := url.ParseQuery(loc.Fragment)
		require.NoError(t, err)
		assert.Equal(t, "sso-token", fragment.Get("access_token"))
		assert.Equal(t, "Bearer", fragment.Get("token_type"))
		assert.Equal(t, fmt.Sprint(expiresAt.Unix()), fragment.Get("expires_at"))
	})

	t.Run("json response", func(t *testing.T) {
		w := postSAML(env, "PHNhbWw+", "https://chat.acme.test/rooms", true)

		require.Equal(t, http.StatusOK, w.Code)
		var body SSOTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "sso-token", body.AccessToken)
		assert.Equal(t, "org-acme", body.OrgID)
		assert.Equal(t, "https://chat.acme.test/rooms", body.ReturnURL)
		assert.True(t, body.UserCreated)
	})

	t.Run("protocol relative return url is rejected", func(t *testing.T) {
		w := postSAML(env, "PHNhbWw+", "//evil.test/steal", false)

		require.Equal(t, http.StatusSeeOther, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/#access_token="))
	})

	t.Run("seat limit", func(t *testing.T) {
		w := postSAML(env, "seat-limit", "acme", false)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "seat_limit_exceeded", decodeError(t, w).Code)
	})

	t.Run("missing response", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/sso/saml/callback", bytes.NewBufferString("RelayState=acme"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusBadRequest, env.do(r).Code)
	})
}

func TestOIDCCallback(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("success", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/oidc/callback?code=good&state=abc", nil))
		require.Equal(t, http.StatusSeeOther, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/chat#access_token=sso-token"))
	})

	t.Run("idp error", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/oidc/callback?error=access_denied&error_description=nope", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "oidc_exchange_failed", decodeError(t, w).Code)
	})

	t.Run("missing params", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/oidc/callback?code=good", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/auth/sso/oidc/callback?code=boom&state=abc", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "database")
	})
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code auth.ErrorCode
		want int
	}{
		{auth.CodeInvalidCredentials, http.StatusUnauthorized},
		{auth.CodeAccountLocked, http.StatusUnauthorized},
		{auth.CodeWeakPassword, http.StatusBadRequest},
		{auth.CodeAssertionUnverified, http.StatusBadRequest},
		{auth.CodeDomainNotAllowed, http.StatusForbidden},
		{auth.CodeUserNotProvisioned, http.StatusForbidden},
		{auth.CodeSeatLimitExceeded, http.StatusConflict},
		{auth.CodeSsoNotConfigured, http.StatusNotFound},
		{auth.CodeOidcExchangeFailed, http.StatusBadGateway},
		{auth.CodeConfigIncomplete, http.StatusUnprocessableEntity},
		{auth.CodeUnsupportedProtocol, http.StatusUnprocessableEntity},
		{"", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForCode(tt.code))
		})
	}
}

func TestSafeReturnURL(t *testing.T) {
	h := NewAuthHandlers(Options{ReturnHosts: []string{"Chat.Acme.test"}})

	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/chat", "/chat"},
		{"/chat?room=1", "/chat?room=1"},
		{"/chat#old", "/chat"},
		{"chat", "/"},
		{"//evil.test", "/"},
		{"/\\evil.test", "/"},
		{"https://chat.acme.test/x", "https://chat.acme.test/x"},
		{"https://evil.test/x", "/"},
		{"javascript:alert(1)", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, h.safeReturnURL(tt.in))
		})
	}
}
