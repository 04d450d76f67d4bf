package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// NameIDFormatEmail is requested in every AuthnRequest
const NameIDFormatEmail = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"

// OIDCScopes are requested on every authorization redirect
var OIDCScopes = []string{"openid", "email", "profile"}

// State is the opaque OIDC state (and SAML RelayState) round-tripped
// through the IdP as base64url JSON. Nonce travels inside it and is not
// bound to the browser session, so it catches an ID token paired with the
// wrong state but not a replayed state and token pair.
type State struct {
	OrgID     string `json:"orgId,omitempty"`
	OrgSlug   string `json:"orgSlug,omitempty"`
	ReturnURL string `json:"returnUrl,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

// EncodeState serializes s as unpadded base64url JSON
func EncodeState(s State) string {
	data, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeState parses base64url JSON produced by EncodeState. Padded input
// is accepted.
func DecodeState(raw string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("state is not base64url: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state is not JSON: %w", err)
	}
	if s.OrgID == "" && s.OrgSlug == "" {
		return nil, fmt.Errorf("state does not identify an organization")
	}
	return &s, nil
}

// ParseRelayState resolves a SAML RelayState to an organization. It is
// either base64url JSON carrying orgId, or a raw organization slug.
func ParseRelayState(raw string) (orgID, orgSlug string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if s, err := DecodeState(raw); err == nil {
		return s.OrgID, s.OrgSlug
	}
	return "", raw
}

type authnRequest struct {
	XMLName                     xml.Name     `xml:"samlp:AuthnRequest"`
	SamlpNS                     string       `xml:"xmlns:samlp,attr"`
	SamlNS                      string       `xml:"xmlns:saml,attr"`
	ID                          string       `xml:"ID,attr"`
	Version                     string       `xml:"Version,attr"`
	IssueInstant                string       `xml:"IssueInstant,attr"`
	Destination                 string       `xml:"Destination,attr"`
	AssertionConsumerServiceURL string       `xml:"AssertionConsumerServiceURL,attr"`
	ProtocolBinding             string       `xml:"ProtocolBinding,attr"`
	Issuer                      string       `xml:"saml:Issuer"`
	NameIDPolicy                nameIDPolicy `xml:"samlp:NameIDPolicy"`
}

type nameIDPolicy struct {
	Format      string `xml:"Format,attr"`
	AllowCreate bool   `xml:"AllowCreate,attr"`
}

// BuilderOption customizes a LoginURLBuilder
type BuilderOption func(*LoginURLBuilder)

// WithBuilderClock overrides the AuthnRequest issue instant clock
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *LoginURLBuilder) {
		b.now = now
	}
}

// WithRequestIDs overrides request id and nonce generation
func WithRequestIDs(requestID, nonce func() string) BuilderOption {
	return func(b *LoginURLBuilder) {
		b.requestID = requestID
		b.nonce = nonce
	}
}

// LoginURLBuilder constructs SP-initiated redirect URLs
type LoginURLBuilder struct {
	metadata  *MetadataResolver
	now       func() time.Time
	requestID func() string
	nonce     func() string
}

// NewLoginURLBuilder creates a builder. metadata resolves IdP SSO URLs for
// SAML configurations that only carry a metadata URL.
func NewLoginURLBuilder(metadata *MetadataResolver, opts ...BuilderOption) *LoginURLBuilder {
	b := &LoginURLBuilder{
		metadata:  metadata,
		now:       time.Now,
		requestID: func() string { return "_" + uuid.New().String() },
		nonce:     randomNonce,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the IdP redirect URL for the organization's protocol
func (b *LoginURLBuilder) Build(ctx context.Context, cfg *SsoConfig, returnURL string) (string, error) {
	switch cfg.Protocol {
	case ProtocolSAML:
		return b.buildSAML(ctx, cfg, returnURL)
	case ProtocolOIDC:
		return b.buildOIDC(cfg, returnURL)
	default:
		return "", auth.Errorf(auth.CodeUnsupportedProtocol, "unsupported SSO protocol %q", cfg.Protocol)
	}
}

func (b *LoginURLBuilder) buildSAML(ctx context.Context, cfg *SsoConfig, returnURL string) (string, error) {
	sc := cfg.Saml
	if sc == nil || sc.SPEntityID == "" || sc.ACSURL == "" {
		return "", auth.Errorf(auth.CodeConfigIncomplete, "SAML configuration requires an SP entity id and an ACS URL")
	}

	var ssoURL string
	switch {
	case sc.IdpSSOURL != "":
		ssoURL = sc.IdpSSOURL
	case sc.MetadataXML != "":
		md, err := ParseMetadata([]byte(sc.MetadataXML))
		if err != nil {
			return "", auth.NewError(auth.CodeConfigIncomplete, "IdP metadata XML has no SSO location", err)
		}
		ssoURL = md.SSOURL
	case b.metadata != nil:
		resolved, err := b.metadata.SSOURL(ctx, sc)
		if err != nil {
			return "", err
		}
		ssoURL = resolved
	default:
		return "", auth.Errorf(auth.CodeConfigIncomplete, "SAML configuration has no IdP SSO URL")
	}

	dest, err := url.Parse(ssoURL)
	if err != nil || dest.Scheme == "" || dest.Host == "" {
		return "", auth.Errorf(auth.CodeConfigIncomplete, "IdP SSO URL %q is not absolute", ssoURL)
	}

	req := authnRequest{
		SamlpNS:                     "urn:oasis:names:tc:SAML:2.0:protocol",
		SamlNS:                      "urn:oasis:names:tc:SAML:2.0:assertion",
		ID:                          b.requestID(),
		Version:                     "2.0",
		IssueInstant:                b.now().UTC().Format(time.RFC3339),
		Destination:                 ssoURL,
		AssertionConsumerServiceURL: sc.ACSURL,
		ProtocolBinding:             BindingHTTPPost,
		Issuer:                      sc.SPEntityID,
		NameIDPolicy:                nameIDPolicy{Format: NameIDFormatEmail, AllowCreate: true},
	}
	doc, err := xml.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode AuthnRequest: %w", err)
	}

	query := dest.Query()
	query.Set("SAMLRequest", base64.StdEncoding.EncodeToString(doc))
	query.Set("RelayState", EncodeState(State{OrgID: cfg.OrgID, ReturnURL: returnURL}))
	dest.RawQuery = query.Encode()
	return dest.String(), nil
}

func (b *LoginURLBuilder) buildOIDC(cfg *SsoConfig, returnURL string) (string, error) {
	oc := cfg.Oidc
	if oc == nil || oc.AuthorizationEndpoint == "" || oc.ClientID == "" || oc.RedirectURL == "" {
		return "", auth.Errorf(auth.CodeConfigIncomplete, "OIDC configuration requires an authorization endpoint, a client id and a redirect URL")
	}
	if _, err := url.Parse(oc.AuthorizationEndpoint); err != nil {
		return "", auth.NewError(auth.CodeConfigIncomplete, "OIDC authorization endpoint is not a URL", err)
	}

	nonce := b.nonce()
	state := EncodeState(State{
		OrgID:     cfg.OrgID,
		OrgSlug:   cfg.OrgSlug,
		ReturnURL: returnURL,
		Nonce:     nonce,
	})

	oauthCfg := oauth2.Config{
		ClientID:    oc.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: oc.AuthorizationEndpoint},
		RedirectURL: oc.RedirectURL,
		Scopes:      OIDCScopes,
	}
	return oauthCfg.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce)), nil
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
