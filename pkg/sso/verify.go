package sso

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SAMLVerifier checks the XML signature of SAML responses before their
// attributes are trusted
type SAMLVerifier struct {
	allowUnsigned bool
	metadata      *MetadataResolver
	logger        *observability.Logger
	now           func() time.Time
}

// SAMLVerifierOption configures a SAMLVerifier
type SAMLVerifierOption func(*SAMLVerifier)

// WithSAMLMetadata resolves signing certificates from metadata URLs for
// configurations without an inline certificate
func WithSAMLMetadata(metadata *MetadataResolver) SAMLVerifierOption {
	return func(v *SAMLVerifier) {
		v.metadata = metadata
	}
}

// WithSAMLClock overrides the clock used for validity windows
func WithSAMLClock(now func() time.Time) SAMLVerifierOption {
	return func(v *SAMLVerifier) {
		v.now = now
	}
}

// NewSAMLVerifier creates a verifier. With allowUnsigned, organizations
// with neither an IdP certificate nor signing certificates in their
// metadata are parsed without verification.
func NewSAMLVerifier(allowUnsigned bool, logger *observability.Logger, opts ...SAMLVerifierOption) *SAMLVerifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	v := &SAMLVerifier{allowUnsigned: allowUnsigned, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// idpTrust is the certificate set and issuer a response must match
type idpTrust struct {
	certs  []*x509.Certificate
	issuer string
}

// Extract decodes a base64 SAMLResponse, verifies it against the IdP
// certificate and returns the normalized attributes
func (v *SAMLVerifier) Extract(ctx context.Context, samlResponse string, cfg *SamlConfig) (*auth.AssertionAttributes, error) {
	if cfg == nil {
		return nil, auth.ErrConfigIncomplete
	}

	samlResponse = strings.Join(strings.Fields(samlResponse), "")
	decoded, err := base64.StdEncoding.DecodeString(samlResponse)
	if err != nil {
		return nil, auth.NewError(auth.CodeAssertionUnverified, "SAMLResponse is not valid base64", err)
	}

	trust, err := v.trust(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(trust.certs) == 0 {
		if !v.allowUnsigned {
			return nil, auth.Errorf(auth.CodeAssertionUnverified, "no IdP certificate is configured to verify the SAML response")
		}
		observability.FromContext(ctx, v.logger).
			WithField("sp_entity_id", cfg.SPEntityID).
			Warn("accepting unsigned SAML response")
		return ParseSAML(decoded, cfg)
	}

	sp := v.serviceProvider(cfg, trust)
	info, err := sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, auth.NewError(auth.CodeAssertionUnverified, "SAML response failed validation", err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, auth.Errorf(auth.CodeAssertionUnverified, "SAML assertion is outside its validity window")
		}
		if info.WarningInfo.NotInAudience {
			return nil, auth.Errorf(auth.CodeAssertionUnverified, "SAML assertion is not addressed to this service provider")
		}
	}

	// Only the signed assertion contributes attributes
	doc := &samlDocument{nameID: strings.TrimSpace(info.NameID), attributes: make(map[string][]string)}
	for _, attr := range info.Values {
		names := []string{attr.Name}
		if attr.FriendlyName != "" && attr.FriendlyName != attr.Name {
			names = append(names, attr.FriendlyName)
		}
		for _, value := range attr.Values {
			for _, name := range names {
				doc.attributes[name] = append(doc.attributes[name], strings.TrimSpace(value.Value))
			}
		}
	}
	return resolveSAML(doc, cfg)
}

// trust picks the signing certificates for cfg: the inline certificate,
// else those published in the inline metadata, else those at the metadata
// URL. The configured IdP entity id wins over the metadata's.
func (v *SAMLVerifier) trust(ctx context.Context, cfg *SamlConfig) (*idpTrust, error) {
	if cfg.IdpCertificate != "" {
		certs, err := parseCertificates(cfg.IdpCertificate)
		if err != nil {
			return nil, auth.NewError(auth.CodeConfigIncomplete, "IdP certificate is not valid PEM", err)
		}
		return &idpTrust{certs: certs, issuer: cfg.IdpEntityID}, nil
	}

	var md *IdpMetadata
	switch {
	case cfg.MetadataXML != "":
		parsed, err := ParseMetadata([]byte(cfg.MetadataXML))
		if err != nil {
			return nil, auth.NewError(auth.CodeConfigIncomplete, "IdP metadata XML is not valid", err)
		}
		md = parsed
	case cfg.MetadataURL != "" && v.metadata != nil:
		resolved, err := v.metadata.Resolve(ctx, cfg.MetadataURL)
		if err != nil {
			return nil, auth.NewError(auth.CodeConfigIncomplete, "IdP metadata could not be resolved", err)
		}
		md = resolved
	default:
		return &idpTrust{issuer: cfg.IdpEntityID}, nil
	}

	trust := &idpTrust{issuer: cfg.IdpEntityID}
	if trust.issuer == "" {
		trust.issuer = md.EntityID
	}
	for _, body := range md.Certificates {
		certs, err := parseCertificates(body)
		if err != nil {
			return nil, auth.NewError(auth.CodeConfigIncomplete, "IdP metadata carries an invalid signing certificate", err)
		}
		trust.certs = append(trust.certs, certs...)
	}
	return trust, nil
}

func (v *SAMLVerifier) serviceProvider(cfg *SamlConfig, trust *idpTrust) *saml2.SAMLServiceProvider {
	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdpSSOURL,
		IdentityProviderIssuer:      trust.issuer,
		ServiceProviderIssuer:       cfg.SPEntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.SPEntityID,
		IDPCertificateStore:         &dsig.MemoryX509CertificateStore{Roots: trust.certs},
		Clock:                       dsig.NewFakeClockAt(v.now()),
	}
}

// parseCertificates accepts one or more PEM blocks, or a bare base64 DER
// body as found in IdP metadata
func parseCertificates(data string) ([]*x509.Certificate, error) {
	rest := []byte(strings.TrimSpace(data))
	if !strings.HasPrefix(string(rest), "-----BEGIN") {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(rest)), ""))
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return []*x509.Certificate{cert}, nil
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found")
	}
	return certs, nil
}

// OIDCVerifier checks ID token signatures against the IdP's published keys
type OIDCVerifier struct {
	allowUnverified bool
	client          *http.Client
	logger          *observability.Logger

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

// NewOIDCVerifier creates a verifier. With allowUnverified, organizations
// without a JWKS URI or issuer are accepted without verification.
func NewOIDCVerifier(client *http.Client, allowUnverified bool, logger *observability.Logger) *OIDCVerifier {
	if client == nil {
		client = observability.NewHTTPClient(defaultHTTPTimeout)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &OIDCVerifier{
		allowUnverified: allowUnverified,
		client:          client,
		logger:          logger,
		verifiers:       make(map[string]*oidc.IDTokenVerifier),
	}
}

// Verify checks the signature, issuer, audience and expiry of an ID token.
// A non-empty nonce must match the token's nonce claim.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string, cfg *OidcConfig, nonce string) error {
	if cfg == nil {
		return auth.ErrConfigIncomplete
	}

	if cfg.JWKSURI == "" && cfg.Issuer == "" {
		if !v.allowUnverified {
			return auth.Errorf(auth.CodeAssertionUnverified, "no JWKS URI or issuer is configured to verify the ID token")
		}
		observability.FromContext(ctx, v.logger).
			WithField("client_id", cfg.ClientID).
			Warn("accepting unverified ID token")
		return nil
	}

	verifier, err := v.verifier(ctx, cfg)
	if err != nil {
		return auth.NewError(auth.CodeInvalidIdToken, "failed to load IdP signing keys", err)
	}

	token, err := verifier.Verify(oidc.ClientContext(ctx, v.client), rawIDToken)
	if err != nil {
		return auth.NewError(auth.CodeInvalidIdToken, "ID token failed verification", err)
	}
	if nonce != "" && token.Nonce != nonce {
		return auth.Errorf(auth.CodeInvalidIdToken, "ID token nonce does not match the login request")
	}
	return nil
}

// verifier returns a cached verifier per issuer, key set and client id.
// Key sets cache their keys and refetch on unknown key ids.
func (v *OIDCVerifier) verifier(ctx context.Context, cfg *OidcConfig) (*oidc.IDTokenVerifier, error) {
	key := cfg.Issuer + "|" + cfg.JWKSURI + "|" + cfg.ClientID

	v.mu.Lock()
	defer v.mu.Unlock()

	if verifier, ok := v.verifiers[key]; ok {
		return verifier, nil
	}

	// Key sets outlive the request that created them
	clientCtx := oidc.ClientContext(context.Background(), v.client)
	oidcConfig := &oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.Issuer == "",
	}

	var verifier *oidc.IDTokenVerifier
	if cfg.JWKSURI != "" {
		keySet := oidc.NewRemoteKeySet(clientCtx, cfg.JWKSURI)
		verifier = oidc.NewVerifier(cfg.Issuer, keySet, oidcConfig)
	} else {
		discoverCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, v.client), defaultHTTPTimeout)
		defer cancel()
		provider, err := oidc.NewProvider(discoverCtx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		verifier = provider.Verifier(oidcConfig)
	}

	v.verifiers[key] = verifier
	return verifier, nil
}
