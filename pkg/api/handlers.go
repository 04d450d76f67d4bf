package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/authflow"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// maxFormBytes bounds SAML POST bodies, which carry a base64 XML document
const maxFormBytes = 1 << 20

// Authenticator is the login surface the handlers drive
type Authenticator interface {
	ValidateCredentials(ctx context.Context, email, password string, reqCtx auth.RequestContext) (*auth.SessionToken, error)
	RefreshToken(ctx context.Context, raw string) (*auth.SessionToken, error)
	BeginSSOLogin(ctx context.Context, orgRef, returnURL string) (string, error)
	HandleSAMLCallback(ctx context.Context, samlResponse, relayState string) (*authflow.SSOResult, error)
	HandleOIDCCallback(ctx context.Context, code, state string) (*authflow.SSOResult, error)
}

// Options configures the auth handlers
type Options struct {
	Authenticator Authenticator
	Users         auth.UserStore
	Sessions      *middleware.SessionAuth
	// Limiter guards login and callback endpoints per client IP. Optional.
	Limiter middleware.Limiter
	// ReturnHosts lists hosts an absolute return URL may point at. Relative
	// paths are always accepted.
	ReturnHosts []string
	Logger      *observability.Logger
}

// AuthHandlers serves password login, token refresh and the SSO round trip
type AuthHandlers struct {
	auth        Authenticator
	users       auth.UserStore
	sessions    *middleware.SessionAuth
	limiter     middleware.Limiter
	returnHosts map[string]bool
	logger      *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(opts Options) *AuthHandlers {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	hosts := make(map[string]bool, len(opts.ReturnHosts))
	for _, h := range opts.ReturnHosts {
		hosts[strings.ToLower(h)] = true
	}

	return &AuthHandlers{
		auth:        opts.Authenticator,
		users:       opts.Users,
		sessions:    opts.Sessions,
		limiter:     opts.Limiter,
		returnHosts: hosts,
		logger:      logger,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/auth/login", h.limit(h.login)).Methods("POST")
	router.Handle("/auth/sso/saml/callback", h.limit(h.samlCallback)).Methods("POST")
	router.Handle("/auth/sso/oidc/callback", h.limit(h.oidcCallback)).Methods("GET")

	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/auth/sso/{org}/login", h.ssoLogin).Methods("GET")
	if h.sessions != nil {
		router.Handle("/auth/me", h.sessions.Handler(http.HandlerFunc(h.me))).Methods("GET")
	}
}

func (h *AuthHandlers) limit(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return middleware.RateLimit(h.limiter, h.logger)(fn)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries an issued session token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

// SSOTokenResponse is returned from SSO callbacks to JSON clients
type SSOTokenResponse struct {
	TokenResponse
	User        *auth.User `json:"user"`
	OrgID       string     `json:"org_id"`
	ReturnURL   string     `json:"return_url"`
	UserCreated bool       `json:"user_created"`
}

// MeResponse describes the caller of GET /auth/me
type MeResponse struct {
	User         *auth.User `json:"user"`
	IsSuperAdmin bool       `json:"is_super_admin"`
}

func newTokenResponse(token *auth.SessionToken) TokenResponse {
	return TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresAt:   token.ExpiresAt.Unix(),
	}
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	token, err := h.auth.ValidateCredentials(r.Context(), req.Email, req.Password, auth.RequestContext{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: observability.GetRequestID(r.Context()),
	})
	if err != nil {
		writeAuthError(w, r, h.logger, err)
		return
	}

	_ = httputil.WriteSuccess(w, newTokenResponse(token))
}

// refresh handles POST /auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := httputil.BearerToken(r)
	if !ok {
		httputil.WriteCodedError(w, http.StatusUnauthorized, string(auth.CodeInvalidSessionToken), "missing bearer token")
		return
	}

	token, err := h.auth.RefreshToken(r.Context(), raw)
	if err != nil {
		writeAuthError(w, r, h.logger, err)
		return
	}

	_ = httputil.WriteSuccess(w, newTokenResponse(token))
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromRequest(r)
	if claims == nil {
		httputil.WriteCodedError(w, http.StatusUnauthorized, string(auth.CodeInvalidSessionToken), "missing session")
		return
	}

	user, err := h.users.FindByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteCodedError(w, http.StatusUnauthorized, string(auth.CodeInvalidSessionToken), "session user no longer exists")
			return
		}
		writeAuthError(w, r, h.logger, err)
		return
	}

	_ = httputil.WriteSuccess(w, MeResponse{User: user.Sanitized(), IsSuperAdmin: claims.IsSuperAdmin})
}

// ssoLogin handles GET /auth/sso/{org}/login
func (h *AuthHandlers) ssoLogin(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org")
	if !ok {
		return
	}
	returnURL := h.safeReturnURL(httputil.ParseQueryString(r, "returnUrl", "/"))

	loginURL, err := h.auth.BeginSSOLogin(r.Context(), orgRef, returnURL)
	if err != nil {
		writeAuthError(w, r, h.logger, err)
		return
	}

	if wantsJSON(r) {
		_ = httputil.WriteSuccess(w, map[string]string{"redirect_url": loginURL})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// samlCallback handles POST /auth/sso/saml/callback
func (h *AuthHandlers) samlCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "invalid form body")
		return
	}

	samlResponse := r.PostForm.Get("SAMLResponse")
	if samlResponse == "" {
		httputil.WriteBadRequest(w, "SAMLResponse is required")
		return
	}

	result, err := h.auth.HandleSAMLCallback(r.Context(), samlResponse, r.PostForm.Get("RelayState"))
	if err != nil {
		writeAuthError(w, r, h.logger, err)
		return
	}

	h.deliver(w, r, result)
}

// oidcCallback handles GET /auth/sso/oidc/callback
func (h *AuthHandlers) oidcCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if idpErr := query.Get("error"); idpErr != "" {
		observability.FromContext(r.Context(), h.logger).WithFields(map[string]interface{}{
			"idp_error":   idpErr,
			"description": query.Get("error_description"),
		}).Warn("identity provider returned an error")
		httputil.WriteCodedError(w, http.StatusBadRequest, string(auth.CodeOidcExchangeFailed), "identity provider rejected the login")
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		httputil.WriteBadRequest(w, "code and state are required")
		return
	}

	result, err := h.auth.HandleOIDCCallback(r.Context(), code, state)
	if err != nil {
		writeAuthError(w, r, h.logger, err)
		return
	}

	h.deliver(w, r, result)
}

// deliver hands the session token to the client: as JSON when asked for,
// otherwise by redirecting to the return URL with the token in the fragment
func (h *AuthHandlers) deliver(w http.ResponseWriter, r *http.Request, result *authflow.SSOResult) {
	returnURL := h.safeReturnURL(result.ReturnURL)

	if wantsJSON(r) {
		_ = httputil.WriteSuccess(w, SSOTokenResponse{
			TokenResponse: newTokenResponse(result.Token),
			User:          result.User,
			OrgID:         result.OrgID,
			ReturnURL:     returnURL,
			UserCreated:   result.UserCreated,
		})
		return
	}

	fragment := url.Values{}
	fragment.Set("access_token", result.Token.AccessToken)
	fragment.Set("token_type", result.Token.TokenType)
	fragment.Set("expires_at", strconv.FormatInt(result.Token.ExpiresAt.Unix(), 10))

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, returnURL+"#"+fragment.Encode(), http.StatusSeeOther)
}

// safeReturnURL accepts local paths and absolute URLs on an allowed host;
// anything else collapses to "/"
func (h *AuthHandlers) safeReturnURL(raw string) string {
	if raw == "" {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	u.Fragment = ""

	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
			return "/"
		}
		return u.String()
	}

	if (u.Scheme == "https" || u.Scheme == "http") && h.returnHosts[strings.ToLower(u.Hostname())] {
		return u.String()
	}
	return "/"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
