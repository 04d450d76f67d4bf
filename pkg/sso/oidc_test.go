package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func unsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

type stubFetcher struct {
	claims   map[string]interface{}
	err      error
	calls    int
	endpoint string
	token    string
}

func (s *stubFetcher) FetchUserinfo(ctx context.Context, endpoint, accessToken string) (map[string]interface{}, error) {
	s.calls++
	s.endpoint = endpoint
	s.token = accessToken
	return s.claims, s.err
}

func TestParseOIDCIDToken_SubjectAndEmail(t *testing.T) {
	token := unsignedToken(t, map[string]interface{}{"sub": "123", "email": "u@corp.com"})

	attrs, err := ParseOIDCIDToken(context.Background(), token, "", &OidcConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "123", attrs.Subject)
	assert.Equal(t, "u@corp.com", attrs.Email)
	assert.Empty(t, attrs.Name)
	assert.Nil(t, attrs.Groups)
}

func TestParseOIDCIDToken_ClaimFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		claims   map[string]interface{}
		cfg      *OidcConfig
		expected auth.AssertionAttributes
	}{
		{
			name:     "subject falls back to email",
			claims:   map[string]interface{}{"email": "u@corp.com"},
			expected: auth.AssertionAttributes{Subject: "u@corp.com", Email: "u@corp.com"},
		},
		{
			name:     "given_name when name absent",
			claims:   map[string]interface{}{"sub": "1", "email": "u@corp.com", "given_name": "Una"},
			expected: auth.AssertionAttributes{Subject: "1", Email: "u@corp.com", Name: "Una"},
		},
		{
			name: "configured claims",
			claims: map[string]interface{}{
				"sub": "1", "upn": "u@corp.com", "email": "other@corp.com",
				"display": "Una U", "roles": []interface{}{"eng", 7, "ops"},
			},
			cfg: &OidcConfig{Claims: AttributeMapping{Email: "upn", Name: "display", Groups: "roles"}},
			expected: auth.AssertionAttributes{
				Subject: "1", Email: "u@corp.com", Name: "Una U", Groups: []string{"eng", "ops"},
			},
		},
		{
			name:     "configured claim missing falls back to standard",
			claims:   map[string]interface{}{"sub": "1", "email": "u@corp.com", "groups": "single"},
			cfg:      &OidcConfig{Claims: AttributeMapping{Email: "upn", Groups: "roles"}},
			expected: auth.AssertionAttributes{Subject: "1", Email: "u@corp.com", Groups: []string{"single"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := ParseOIDCIDToken(context.Background(), unsignedToken(t, tt.claims), "", tt.cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *attrs)
		})
	}
}

func TestParseOIDCIDToken_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"not base64", "a.!!!.c"},
		{"not json", "a." + base64.RawURLEncoding.EncodeToString([]byte("hello")) + ".c"},
		{"json array", "a." + base64.RawURLEncoding.EncodeToString([]byte(`["x"]`)) + ".c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOIDCIDToken(context.Background(), tt.token, "", nil, nil)
			assert.ErrorIs(t, err, auth.ErrInvalidIdToken)
		})
	}
}

func TestParseOIDCIDToken_PaddedPayload(t *testing.T) {
	payload := base64.URLEncoding.EncodeToString([]byte(`{"sub":"1","email":"u@corp.com"}`))
	attrs, err := ParseOIDCIDToken(context.Background(), "a."+payload+".c", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "u@corp.com", attrs.Email)
}

func TestParseOIDCIDToken_MissingEmail(t *testing.T) {
	_, err := ParseOIDCIDToken(context.Background(), unsignedToken(t, map[string]interface{}{"sub": "1"}), "", nil, nil)
	assert.ErrorIs(t, err, auth.ErrMissingEmailAttribute)
}

func TestParseOIDCIDToken_UserinfoEnrichment(t *testing.T) {
	token := unsignedToken(t, map[string]interface{}{"sub": "1", "email": "u@corp.com"})
	cfg := &OidcConfig{AuthorizationEndpoint: "https://idp.corp.com/oauth2/authorize"}

	fetcher := &stubFetcher{claims: map[string]interface{}{"groups": []interface{}{"eng"}}}
	attrs, err := ParseOIDCIDToken(context.Background(), token, "access-1", cfg, fetcher)
	require.NoError(t, err)
	assert.Equal(t, []string{"eng"}, attrs.Groups)
	assert.Equal(t, "https://idp.corp.com/oauth2/userinfo", fetcher.endpoint)
	assert.Equal(t, "access-1", fetcher.token)

	// Failures are swallowed
	failing := &stubFetcher{err: errors.New("boom")}
	attrs, err = ParseOIDCIDToken(context.Background(), token, "access-1", cfg, failing)
	require.NoError(t, err)
	assert.Nil(t, attrs.Groups)
	assert.Equal(t, 1, failing.calls)

	// Not consulted when the token already has groups
	withGroups := unsignedToken(t, map[string]interface{}{"sub": "1", "email": "u@corp.com", "groups": []interface{}{"ops"}})
	unused := &stubFetcher{}
	attrs, err = ParseOIDCIDToken(context.Background(), withGroups, "access-1", cfg, unused)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, attrs.Groups)
	assert.Zero(t, unused.calls)

	// Not consulted when no endpoint is derivable
	underivable := &stubFetcher{}
	_, err = ParseOIDCIDToken(context.Background(), token, "access-1", &OidcConfig{AuthorizationEndpoint: "https://idp/auth"}, underivable)
	require.NoError(t, err)
	assert.Zero(t, underivable.calls)
}

func TestUserinfoEndpoint(t *testing.T) {
	assert.Equal(t, "", UserinfoEndpoint(nil))
	assert.Equal(t, "https://x/ui", UserinfoEndpoint(&OidcConfig{UserinfoEndpoint: "https://x/ui", AuthorizationEndpoint: "https://x/authorize"}))
	assert.Equal(t, "https://x/v1/userinfo", UserinfoEndpoint(&OidcConfig{AuthorizationEndpoint: "https://x/v1/authorize/"}))
	assert.Equal(t, "", UserinfoEndpoint(&OidcConfig{AuthorizationEndpoint: "https://x/auth"}))
}

func TestHTTPUserinfoFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"1","groups":["eng","ops"]}`))
	}))
	defer server.Close()

	fetcher := NewHTTPUserinfoFetcher(server.Client(), nil)

	claims, err := fetcher.FetchUserinfo(context.Background(), server.URL, "access-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"eng", "ops"}, getArrayValue(claims, "groups"))

	_, err = fetcher.FetchUserinfo(context.Background(), server.URL, "wrong")
	assert.Error(t, err)
}

// testIdP serves a JWKS document for a freshly generated RSA key
type testIdP struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIdP{key: key}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *testIdP) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(idp.key)
	require.NoError(t, err)
	return signed
}

func TestOIDCVerifier_Verify(t *testing.T) {
	idp := newTestIdP(t)
	cfg := &OidcConfig{Issuer: "https://idp.corp.com", ClientID: "client-1", JWKSURI: idp.server.URL}
	verifier := NewOIDCVerifier(idp.server.Client(), false, nil)

	valid := jwt.MapClaims{
		"iss":   "https://idp.corp.com",
		"aud":   "client-1",
		"sub":   "123",
		"email": "u@corp.com",
		"nonce": "n-1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	t.Run("valid token", func(t *testing.T) {
		assert.NoError(t, verifier.Verify(context.Background(), idp.sign(t, valid), cfg, "n-1"))
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		err := verifier.Verify(context.Background(), idp.sign(t, valid), cfg, "other")
		assert.ErrorIs(t, err, auth.ErrInvalidIdToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := jwt.MapClaims{}
		for k, v := range valid {
			claims[k] = v
		}
		claims["aud"] = "someone-else"
		err := verifier.Verify(context.Background(), idp.sign(t, claims), cfg, "")
		assert.ErrorIs(t, err, auth.ErrInvalidIdToken)
	})

	t.Run("expired", func(t *testing.T) {
		claims := jwt.MapClaims{}
		for k, v := range valid {
			claims[k] = v
		}
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		err := verifier.Verify(context.Background(), idp.sign(t, claims), cfg, "")
		assert.ErrorIs(t, err, auth.ErrInvalidIdToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		err := verifier.Verify(context.Background(), unsignedToken(t, map[string]interface{}{"sub": "1"}), cfg, "")
		assert.ErrorIs(t, err, auth.ErrInvalidIdToken)
	})
}

func TestOIDCVerifier_NoKeys(t *testing.T) {
	token := unsignedToken(t, map[string]interface{}{"sub": "1", "email": "u@corp.com"})

	strict := NewOIDCVerifier(nil, false, nil)
	assert.ErrorIs(t, strict.Verify(context.Background(), token, &OidcConfig{ClientID: "c"}, ""), auth.ErrAssertionUnverified)

	lenient := NewOIDCVerifier(nil, true, nil)
	assert.NoError(t, lenient.Verify(context.Background(), token, &OidcConfig{ClientID: "c"}, ""))

	assert.ErrorIs(t, strict.Verify(context.Background(), token, nil, ""), auth.ErrConfigIncomplete)
}
