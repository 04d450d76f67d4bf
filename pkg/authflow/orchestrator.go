package authflow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/provisioning"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

const tracerName = "gatehouse/authflow"

// Values of the gatehouse_tokens_issued_total kind label
const (
	TokenKindPassword = "password"
	TokenKindSSO      = "sso"
	TokenKindRefresh  = "refresh"
)

// CredentialValidator checks an email and password
type CredentialValidator interface {
	Validate(ctx context.Context, email, password string, reqCtx auth.RequestContext) (*auth.User, error)
}

// LoginURLBuilder builds the outbound IdP redirect
type LoginURLBuilder interface {
	Build(ctx context.Context, cfg *sso.SsoConfig, returnURL string) (string, error)
}

// SAMLVerifier verifies a base64 SAMLResponse and extracts its attributes
type SAMLVerifier interface {
	Extract(ctx context.Context, samlResponse string, cfg *sso.SamlConfig) (*auth.AssertionAttributes, error)
}

// OIDCVerifier verifies an ID token's signature and nonce
type OIDCVerifier interface {
	Verify(ctx context.Context, rawIDToken string, cfg *sso.OidcConfig, nonce string) error
}

// CodeExchanger redeems an OIDC authorization code
type CodeExchanger interface {
	Exchange(ctx context.Context, cfg *sso.SsoConfig, code string) (*sso.TokenSet, error)
}

// IdentityReconciler provisions the local records for an SSO identity
type IdentityReconciler interface {
	Reconcile(ctx context.Context, orgID string, attrs *auth.AssertionAttributes, cfg *sso.SsoConfig) (*provisioning.Result, error)
}

// TokenIssuer signs, refreshes and verifies session tokens
type TokenIssuer interface {
	Issue(ctx context.Context, user *auth.User) (*auth.SessionToken, error)
	Refresh(ctx context.Context, claims *auth.Claims) (*auth.SessionToken, error)
	Verify(raw string) (*auth.Claims, error)
}

// Dependencies wires an Orchestrator. Events, Userinfo, Metrics, Logger and
// TracerProvider are optional.
type Dependencies struct {
	Credentials    CredentialValidator
	Configs        sso.ConfigStore
	LoginURLs      LoginURLBuilder
	SAML           SAMLVerifier
	OIDC           OIDCVerifier
	Exchanger      CodeExchanger
	Userinfo       sso.UserinfoFetcher
	Reconciler     IdentityReconciler
	Tokens         TokenIssuer
	Events         auth.SecurityEventLogger
	Metrics        *observability.Metrics
	Logger         *observability.Logger
	TracerProvider trace.TracerProvider
}

// SSOResult is the outcome of a completed SSO callback
type SSOResult struct {
	Token             *auth.SessionToken
	User              *auth.User
	OrgID             string
	ReturnURL         string
	UserCreated       bool
	MembershipCreated bool
}

// Orchestrator composes the password login and SSO flows
type Orchestrator struct {
	deps   Dependencies
	tracer trace.Tracer
	logger *observability.Logger
}

// New creates an orchestrator
func New(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("credential validator is required")
	case deps.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case deps.Configs == nil || deps.Reconciler == nil:
		return nil, errors.New("SSO config store and reconciler are required")
	case deps.LoginURLs == nil || deps.SAML == nil || deps.OIDC == nil || deps.Exchanger == nil:
		return nil, errors.New("login URL builder, verifiers and code exchanger are required")
	}

	o := &Orchestrator{deps: deps, logger: deps.Logger}
	if o.logger == nil {
		o.logger = observability.NewNopLogger()
	}
	if deps.TracerProvider != nil {
		o.tracer = deps.TracerProvider.Tracer(tracerName)
	} else {
		o.tracer = otel.Tracer(tracerName)
	}
	return o, nil
}

// ValidateCredentials runs a password login and issues a session token
func (o *Orchestrator) ValidateCredentials(ctx context.Context, email, password string, reqCtx auth.RequestContext) (*auth.SessionToken, error) {
	ctx, span := o.tracer.Start(ctx, "ValidateCredentials")
	defer span.End()

	if reqCtx.RequestID == "" {
		reqCtx.RequestID = observability.GetRequestID(ctx)
	}

	user, err := o.deps.Credentials.Validate(ctx, email, password, reqCtx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	token, err := o.deps.Tokens.Issue(ctx, user)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	o.countToken(TokenKindPassword)
	return token, nil
}

// RefreshToken verifies a session token and issues a fresh one for the
// same subject
func (o *Orchestrator) RefreshToken(ctx context.Context, raw string) (*auth.SessionToken, error) {
	ctx, span := o.tracer.Start(ctx, "RefreshToken")
	defer span.End()

	claims, err := o.deps.Tokens.Verify(raw)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	token, err := o.deps.Tokens.Refresh(ctx, claims)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	o.countToken(TokenKindRefresh)
	return token, nil
}

// BeginSSOLogin builds the IdP redirect for an organization referenced by
// slug or id
func (o *Orchestrator) BeginSSOLogin(ctx context.Context, orgRef, returnURL string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "BeginSSOLogin", trace.WithAttributes(attribute.String("org.ref", orgRef)))
	defer span.End()
	f := newFlow(span, o.deps.Metrics, "")

	cfg, err := o.configByRef(ctx, orgRef)
	if err != nil {
		return "", f.fail(err)
	}
	f.setProtocol(cfg.Protocol)
	span.SetAttributes(attribute.String("org.id", cfg.OrgID))

	if !cfg.IsActive() {
		return "", f.fail(auth.ErrSsoInactive)
	}

	loginURL, err := o.deps.LoginURLs.Build(ctx, cfg, returnURL)
	if err != nil {
		return "", f.fail(err)
	}

	f.advance(StageLoginURLIssued)
	o.logger.WithFields(map[string]interface{}{
		"org_id":   cfg.OrgID,
		"protocol": f.protocol,
	}).Debug("SSO login URL issued")
	return loginURL, nil
}

// HandleSSOCallback provisions and signs in an already extracted identity
// for orgID
func (o *Orchestrator) HandleSSOCallback(ctx context.Context, orgID string, attrs *auth.AssertionAttributes) (*auth.SessionToken, error) {
	ctx, span := o.tracer.Start(ctx, "HandleSSOCallback", trace.WithAttributes(attribute.String("org.id", orgID)))
	defer span.End()
	f := newFlow(span, o.deps.Metrics, "")

	cfg, err := o.loadConfig(ctx, orgID, "")
	if err != nil {
		return nil, o.failed(ctx, f, orgID, attrs, err)
	}
	f.setProtocol(cfg.Protocol)
	f.advance(StageCallbackReceived)
	f.advance(StageAttributesExtracted)

	result, err := o.complete(ctx, f, cfg, attrs)
	if err != nil {
		return nil, err
	}
	return result.Token, nil
}

// HandleSAMLCallback verifies a base64 SAMLResponse posted by the IdP and
// signs the asserted user in. RelayState identifies the organization.
func (o *Orchestrator) HandleSAMLCallback(ctx context.Context, samlResponse, relayState string) (*SSOResult, error) {
	ctx, span := o.tracer.Start(ctx, "HandleSAMLCallback")
	defer span.End()
	f := newFlow(span, o.deps.Metrics, sso.ProtocolSAML)

	orgID, orgSlug := sso.ParseRelayState(relayState)
	cfg, err := o.loadConfig(ctx, orgID, orgSlug)
	if err != nil {
		return nil, o.failed(ctx, f, orgID, nil, err)
	}
	span.SetAttributes(attribute.String("org.id", cfg.OrgID))

	if err := checkUsable(cfg, sso.ProtocolSAML); err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}
	f.advance(StageCallbackReceived)

	attrs, err := o.deps.SAML.Extract(ctx, samlResponse, cfg.Saml)
	if err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}
	f.advance(StageAttributesExtracted)

	result, err := o.complete(ctx, f, cfg, attrs)
	if err != nil {
		return nil, err
	}
	if state, err := sso.DecodeState(relayState); err == nil {
		result.ReturnURL = state.ReturnURL
	}
	return result, nil
}

// HandleOIDCCallback redeems the authorization code, verifies the ID token
// against the nonce carried in state and signs the user in
func (o *Orchestrator) HandleOIDCCallback(ctx context.Context, code, rawState string) (*SSOResult, error) {
	ctx, span := o.tracer.Start(ctx, "HandleOIDCCallback")
	defer span.End()
	f := newFlow(span, o.deps.Metrics, sso.ProtocolOIDC)

	state, err := sso.DecodeState(rawState)
	if err != nil {
		return nil, o.failed(ctx, f, "", nil, auth.NewError(auth.CodeSsoNotConfigured, "state does not identify an organization", err))
	}

	cfg, err := o.loadConfig(ctx, state.OrgID, state.OrgSlug)
	if err != nil {
		return nil, o.failed(ctx, f, state.OrgID, nil, err)
	}
	span.SetAttributes(attribute.String("org.id", cfg.OrgID))

	if err := checkUsable(cfg, sso.ProtocolOIDC); err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}
	f.advance(StageCallbackReceived)

	tokens, err := o.deps.Exchanger.Exchange(ctx, cfg, code)
	if err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}

	if err := o.deps.OIDC.Verify(ctx, tokens.IDToken, cfg.Oidc, state.Nonce); err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}

	attrs, err := sso.ParseOIDCIDToken(ctx, tokens.IDToken, tokens.AccessToken, cfg.Oidc, o.deps.Userinfo)
	if err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, nil, err)
	}
	f.advance(StageAttributesExtracted)

	result, err := o.complete(ctx, f, cfg, attrs)
	if err != nil {
		return nil, err
	}
	result.ReturnURL = state.ReturnURL
	return result, nil
}

// complete reconciles the identity and issues its session token
func (o *Orchestrator) complete(ctx context.Context, f *flow, cfg *sso.SsoConfig, attrs *auth.AssertionAttributes) (*SSOResult, error) {
	reconciled, err := o.deps.Reconciler.Reconcile(ctx, cfg.OrgID, attrs, cfg)
	if err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, attrs, err)
	}
	f.advance(StageReconciled)

	token, err := o.deps.Tokens.Issue(ctx, reconciled.User)
	if err != nil {
		return nil, o.failed(ctx, f, cfg.OrgID, attrs, fmt.Errorf("failed to issue session token: %w", err))
	}
	f.advance(StageTokenIssued)
	o.countToken(TokenKindSSO)

	if o.deps.Events != nil {
		o.deps.Events.LogSecurityEvent(ctx, auth.EventSSOLoginSuccess, map[string]interface{}{
			"email":              auth.MaskEmail(reconciled.User.Email),
			"user_id":            reconciled.User.ID,
			"org_id":             cfg.OrgID,
			"protocol":           f.protocol,
			"user_created":       reconciled.UserCreated,
			"membership_created": reconciled.MembershipCreated,
		})
	}

	return &SSOResult{
		Token:             token,
		User:              reconciled.User.Sanitized(),
		OrgID:             cfg.OrgID,
		UserCreated:       reconciled.UserCreated,
		MembershipCreated: reconciled.MembershipCreated,
	}, nil
}

// failed terminates the flow, emits sso_login_failed and returns err
func (o *Orchestrator) failed(ctx context.Context, f *flow, orgID string, attrs *auth.AssertionAttributes, err error) error {
	f.fail(err)

	metadata := map[string]interface{}{
		"org_id":   orgID,
		"protocol": f.protocol,
		"code":     resultCode(err),
	}
	if attrs != nil && attrs.Email != "" {
		metadata["email"] = auth.MaskEmail(attrs.Email)
	}

	logger := observability.FromContext(ctx, o.logger).WithFields(metadata)
	if auth.CodeOf(err) == "" {
		logger.WithError(err).Error("SSO login failed")
	} else {
		logger.WithError(err).Warn("SSO login rejected")
	}

	if o.deps.Events != nil {
		o.deps.Events.LogSecurityEvent(ctx, auth.EventSSOLoginFailed, metadata)
	}
	return err
}

func (o *Orchestrator) loadConfig(ctx context.Context, orgID, orgSlug string) (*sso.SsoConfig, error) {
	var (
		cfg *sso.SsoConfig
		err error
	)
	switch {
	case orgID != "":
		cfg, err = o.deps.Configs.ByOrgID(ctx, orgID)
	case orgSlug != "":
		cfg, err = o.deps.Configs.BySlug(ctx, orgSlug)
	default:
		return nil, auth.Errorf(auth.CodeSsoNotConfigured, "callback does not identify an organization")
	}
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrSsoNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SSO configuration: %w", err)
	}
	return cfg, nil
}

// configByRef resolves a slug first and falls back to an organization id
func (o *Orchestrator) configByRef(ctx context.Context, orgRef string) (*sso.SsoConfig, error) {
	if orgRef == "" {
		return nil, auth.Errorf(auth.CodeSsoNotConfigured, "organization is required")
	}
	cfg, err := o.deps.Configs.BySlug(ctx, orgRef)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("failed to load SSO configuration: %w", err)
	}
	return o.loadConfig(ctx, orgRef, "")
}

func checkUsable(cfg *sso.SsoConfig, protocol sso.Protocol) error {
	if cfg.Protocol != protocol {
		return auth.Errorf(auth.CodeUnsupportedProtocol, "organization %s signs in with %s, not %s", cfg.OrgID, cfg.Protocol, protocol)
	}
	if !cfg.IsActive() {
		return auth.ErrSsoInactive
	}
	return nil
}

func (o *Orchestrator) countToken(kind string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.TokensIssuedTotal.WithLabelValues(kind).Inc()
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, resultCode(err))
}
