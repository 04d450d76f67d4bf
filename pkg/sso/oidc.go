package sso

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// UserinfoFetcher retrieves claims from an OIDC userinfo endpoint using the
// access token as bearer credential
type UserinfoFetcher interface {
	FetchUserinfo(ctx context.Context, endpoint, accessToken string) (map[string]interface{}, error)
}

// segmentParser decodes JWT segments; padded segments from lenient IdPs
// are accepted
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// ParseOIDCIDToken extracts the subject, email, name and groups from the
// payload of an ID token. It does not check the signature; see
// OIDCVerifier. When the token carries no groups and a userinfo endpoint
// can be derived from cfg, groups are fetched from it on a best-effort
// basis.
func ParseOIDCIDToken(ctx context.Context, idToken, accessToken string, cfg *OidcConfig, fetcher UserinfoFetcher) (*auth.AssertionAttributes, error) {
	claims, err := DecodeIDTokenClaims(idToken)
	if err != nil {
		return nil, err
	}

	var mapping AttributeMapping
	if cfg != nil {
		mapping = cfg.Claims
	}
	mapping = mapping.WithDefaults()

	attrs := &auth.AssertionAttributes{
		Email:  firstString(claims, mapping.Email, "email"),
		Name:   firstString(claims, mapping.Name, "name", "given_name"),
		Groups: firstArray(claims, mapping.Groups, "groups"),
	}
	attrs.Subject = firstString(claims, "sub")
	if attrs.Subject == "" {
		attrs.Subject = attrs.Email
	}

	if len(attrs.Groups) == 0 && fetcher != nil && accessToken != "" {
		if endpoint := UserinfoEndpoint(cfg); endpoint != "" {
			if info, err := fetcher.FetchUserinfo(ctx, endpoint, accessToken); err == nil {
				if groups := firstArray(info, mapping.Groups, "groups"); len(groups) > 0 {
					attrs.Groups = groups
				}
			}
		}
	}

	if attrs.Email == "" {
		return nil, auth.ErrMissingEmailAttribute
	}
	return attrs, nil
}

// DecodeIDTokenClaims returns the JSON payload of a compact JWT
func DecodeIDTokenClaims(idToken string) (map[string]interface{}, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, auth.Errorf(auth.CodeInvalidIdToken, "ID token must have three segments, got %d", len(parts))
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, auth.NewError(auth.CodeInvalidIdToken, "ID token payload is not base64url", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, auth.NewError(auth.CodeInvalidIdToken, "ID token payload is not a JSON object", err)
	}
	if claims == nil {
		return nil, auth.Errorf(auth.CodeInvalidIdToken, "ID token payload is empty")
	}
	return claims, nil
}

// UserinfoEndpoint returns the configured userinfo endpoint, or one derived
// from an authorization endpoint ending in /authorize. Empty when neither
// applies.
func UserinfoEndpoint(cfg *OidcConfig) string {
	if cfg == nil {
		return ""
	}
	if cfg.UserinfoEndpoint != "" {
		return cfg.UserinfoEndpoint
	}
	authz := strings.TrimRight(cfg.AuthorizationEndpoint, "/")
	if strings.HasSuffix(authz, "/authorize") {
		return strings.TrimSuffix(authz, "/authorize") + "/userinfo"
	}
	return ""
}

func firstString(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v := getStringValue(data, key); v != "" {
			return v
		}
	}
	return ""
}

func firstArray(data map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		if v := getArrayValue(data, key); len(v) > 0 {
			return v
		}
	}
	return nil
}

func getStringValue(data map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// getArrayValue accepts a JSON array of strings or a single string
func getArrayValue(data map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	switch val := data[key].(type) {
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok && str != "" {
				result = append(result, str)
			}
		}
		if len(result) == 0 {
			return nil
		}
		return result
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return nil
}
