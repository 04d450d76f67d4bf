package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the session token lifetime when none is configured
	DefaultTokenTTL = 24 * time.Hour
	// TokenTypeBearer is returned alongside every issued token
	TokenTypeBearer = "Bearer"
)

// Claims is the session token payload: sub, email, isSuperAdmin, iat, exp
type Claims struct {
	Email        string `json:"email"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	jwt.RegisteredClaims
}

// SessionToken is a signed session token and the claims it carries
type SessionToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Claims      *Claims   `json:"-"`
}

// TokenIssuerConfig configures signing. PrivateKey selects RS256 or ES256 by
// key type; otherwise HMACSecret is used with HS256.
type TokenIssuerConfig struct {
	TTL        time.Duration
	Issuer     string
	HMACSecret []byte
	PrivateKey crypto.Signer
}

// TokenIssuerOption customizes a TokenIssuer
type TokenIssuerOption func(*TokenIssuer)

// WithTokenClock overrides the clock used for iat/exp and validation
func WithTokenClock(now func() time.Time) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		ti.now = now
	}
}

// TokenIssuer signs session tokens and resolves superadmin status
type TokenIssuer struct {
	users       UserStore
	memberships MembershipStore
	method      jwt.SigningMethod
	signKey     interface{}
	verifyKey   interface{}
	ttl         time.Duration
	issuer      string
	now         func() time.Time
}

// NewTokenIssuer creates a token issuer backed by the given stores
func NewTokenIssuer(cfg TokenIssuerConfig, users UserStore, memberships MembershipStore, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if users == nil || memberships == nil {
		return nil, errors.New("user and membership stores are required")
	}

	ti := &TokenIssuer{
		users:       users,
		memberships: memberships,
		ttl:         cfg.TTL,
		issuer:      cfg.Issuer,
		now:         time.Now,
	}
	if ti.ttl <= 0 {
		ti.ttl = DefaultTokenTTL
	}

	switch {
	case cfg.PrivateKey != nil:
		switch pub := cfg.PrivateKey.Public().(type) {
		case *rsa.PublicKey:
			ti.method = jwt.SigningMethodRS256
		case *ecdsa.PublicKey:
			method, err := ecdsaMethod(pub)
			if err != nil {
				return nil, err
			}
			ti.method = method
		default:
			return nil, fmt.Errorf("unsupported signing key type %T", cfg.PrivateKey)
		}
		ti.signKey = cfg.PrivateKey
		ti.verifyKey = cfg.PrivateKey.Public()
	case len(cfg.HMACSecret) > 0:
		ti.method = jwt.SigningMethodHS256
		ti.signKey = cfg.HMACSecret
		ti.verifyKey = cfg.HMACSecret
	default:
		return nil, errors.New("a signing secret or private key is required")
	}

	for _, opt := range opts {
		opt(ti)
	}

	return ti, nil
}

// ecdsaMethod picks the JWS algorithm that matches the key's curve
func ecdsaMethod(pub *ecdsa.PublicKey) (jwt.SigningMethod, error) {
	switch pub.Curve {
	case elliptic.P256():
		return jwt.SigningMethodES256, nil
	case elliptic.P384():
		return jwt.SigningMethodES384, nil
	case elliptic.P521():
		return jwt.SigningMethodES512, nil
	}
	return nil, fmt.Errorf("unsupported ECDSA curve %s", pub.Curve.Params().Name)
}

// Issue signs a new session token for the user
func (ti *TokenIssuer) Issue(ctx context.Context, user *User) (*SessionToken, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("user is required")
	}

	superAdmin, err := ti.ResolveSuperAdmin(ctx, user)
	if err != nil {
		return nil, err
	}

	return ti.sign(user.ID, user.Email, superAdmin)
}

// Refresh re-signs a token for the same subject and email. Superadmin
// status is resolved from current state, never copied from the old claims.
func (ti *TokenIssuer) Refresh(ctx context.Context, claims *Claims) (*SessionToken, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrInvalidSessionToken
	}

	user, err := ti.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(CodeInvalidSessionToken, "token subject no longer exists", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}

	superAdmin, err := ti.ResolveSuperAdmin(ctx, user)
	if err != nil {
		return nil, err
	}

	return ti.sign(claims.Subject, claims.Email, superAdmin)
}

// Verify parses a session token and checks its signature, expiry and issuer
func (ti *TokenIssuer) Verify(raw string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ti.method.Alg()}),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	}
	if ti.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(ti.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return ti.verifyKey, nil
	}, parserOpts...)
	if err != nil {
		return nil, NewError(CodeInvalidSessionToken, "invalid session token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidSessionToken
	}

	return claims, nil
}

// ResolveSuperAdmin reports whether the user is a system admin or holds the
// superadmin role on any enabled membership.
func (ti *TokenIssuer) ResolveSuperAdmin(ctx context.Context, user *User) (bool, error) {
	if user.IsSystemAdmin {
		return true, nil
	}

	memberships, err := ti.memberships.ListByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list memberships: %w", err)
	}

	for _, m := range memberships {
		if !m.IsDisabled && m.HasRole(RoleSuperAdmin) {
			return true, nil
		}
	}
	return false, nil
}

func (ti *TokenIssuer) sign(subject, email string, superAdmin bool) (*SessionToken, error) {
	now := ti.now().UTC()
	expiresAt := now.Add(ti.ttl)

	claims := &Claims{
		Email:        email,
		IsSuperAdmin: superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(ti.method, claims).SignedString(ti.signKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &SessionToken{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresAt:   expiresAt,
		Claims:      claims,
	}, nil
}
