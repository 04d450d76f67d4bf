package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/password"
)

// Failure reasons recorded on login_failed events. Never returned to callers.
const (
	ReasonAccountLocked = "account_locked"
	ReasonUnknownUser   = "unknown_user"
	ReasonBadPassword   = "bad_password"
	ReasonHashError     = "hash_error"
	ReasonWeakPassword  = "weak_password"
)

// LockoutTracker is the subset of lockout.Tracker the validator uses
type LockoutTracker interface {
	IsLocked(ctx context.Context, identity string) bool
	RecordFailure(ctx context.Context, identity string)
	Reset(ctx context.Context, identity string)
}

// dummyHasher is implemented by hashers that can produce a fixed
// never-matching hash with their own cost parameters
type dummyHasher interface {
	DummyHash() string
}

// Option customizes a Validator
type Option func(*Validator)

// WithAutoProvision creates unknown users on first login (demo mode)
func WithAutoProvision(enabled bool) Option {
	return func(v *Validator) {
		v.autoProvision = enabled
	}
}

// WithMetrics records attempts and latency
func WithMetrics(metrics *observability.Metrics) Option {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClock overrides the clock used for timestamps and latency
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator verifies email/password credentials
type Validator struct {
	users         auth.UserStore
	hasher        auth.PasswordHasher
	lockout       LockoutTracker
	events        auth.SecurityEventLogger
	dummyHash     string
	autoProvision bool
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
}

// NewValidator creates a credential validator
func NewValidator(users auth.UserStore, hasher auth.PasswordHasher, lockout LockoutTracker, events auth.SecurityEventLogger, opts ...Option) (*Validator, error) {
	if users == nil || hasher == nil || lockout == nil || events == nil {
		return nil, errors.New("users, hasher, lockout and events are required")
	}

	v := &Validator{
		users:   users,
		hasher:  hasher,
		lockout: lockout,
		events:  events,
		logger:  observability.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if dh, ok := hasher.(dummyHasher); ok {
		v.dummyHash = dh.DummyHash()
	} else {
		// Hash of a random secret nobody knows, with the hasher's own costs
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("crypto/rand failed: %w", err)
		}
		hash, err := hasher.Hash(hex.EncodeToString(secret))
		if err != nil {
			return nil, fmt.Errorf("failed to build reference hash: %w", err)
		}
		v.dummyHash = hash
	}

	return v, nil
}

// Validate checks the credentials and returns the sanitized user.
// Failures are *auth.Error values whose public message never reveals
// whether the account exists.
func (v *Validator) Validate(ctx context.Context, email, plaintext string, reqCtx auth.RequestContext) (*auth.User, error) {
	start := v.now()
	email = auth.NormalizeEmail(email)

	if v.lockout.IsLocked(ctx, email) {
		v.failed(ctx, email, ReasonAccountLocked, reqCtx, start)
		return nil, auth.ErrAccountLocked
	}

	// Always performed, even when the outcome is already decided, so
	// response time does not depend on account existence.
	user, err := v.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user == nil {
		if v.autoProvision {
			return v.provision(ctx, email, plaintext, reqCtx, start)
		}
		_, _ = v.hasher.Verify(plaintext, v.dummyHash)
		v.lockout.RecordFailure(ctx, email)
		v.failed(ctx, email, ReasonUnknownUser, reqCtx, start)
		return nil, auth.ErrInvalidCredentials
	}

	if !user.HasPassword() {
		return v.assignFirstPassword(ctx, user, plaintext, reqCtx, start)
	}

	ok, err := v.hasher.Verify(plaintext, *user.PasswordHash)
	if err != nil || !ok {
		reason := ReasonBadPassword
		if err != nil {
			reason = ReasonHashError
			v.logger.WithError(err).WithField("user_id", user.ID).Warn("stored password hash could not be verified")
		}
		v.lockout.RecordFailure(ctx, email)
		v.failed(ctx, email, reason, reqCtx, start)
		return nil, auth.ErrInvalidCredentials
	}

	v.succeeded(ctx, user, reqCtx, start, "password")
	return user.Sanitized(), nil
}

// provision creates a user on first login when demo auto-provisioning is on
func (v *Validator) provision(ctx context.Context, email, plaintext string, reqCtx auth.RequestContext, start time.Time) (*auth.User, error) {
	if err := password.ValidateStrength(plaintext); err != nil {
		v.failed(ctx, email, ReasonWeakPassword, reqCtx, start)
		return nil, err
	}

	hash, err := v.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := v.now().UTC()
	user := &auth.User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  auth.LocalPart(email),
		PasswordHash: &hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := v.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	v.events.LogSecurityEvent(ctx, auth.EventUserProvisioned, map[string]interface{}{
		"email":   auth.MaskEmail(email),
		"user_id": user.ID,
		"source":  "password_auto_provision",
	})
	v.succeeded(ctx, user, reqCtx, start, "auto_provisioned")
	return user.Sanitized(), nil
}

// assignFirstPassword stores the supplied password for an SSO-origin user
// that has never had one. The first password presented wins.
func (v *Validator) assignFirstPassword(ctx context.Context, user *auth.User, plaintext string, reqCtx auth.RequestContext, start time.Time) (*auth.User, error) {
	hash, err := v.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := v.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("failed to store password hash: %w", err)
	}
	user.PasswordHash = &hash

	v.events.LogSecurityEvent(ctx, auth.EventPasswordAssigned, map[string]interface{}{
		"email":   auth.MaskEmail(user.Email),
		"user_id": user.ID,
	})
	v.succeeded(ctx, user, reqCtx, start, "password_assigned")
	return user.Sanitized(), nil
}

func (v *Validator) failed(ctx context.Context, email, reason string, reqCtx auth.RequestContext, start time.Time) {
	latency := v.now().Sub(start)
	metadata := requestMetadata(reqCtx)
	metadata["email"] = auth.MaskEmail(email)
	metadata["reason"] = reason
	metadata["latency_ms"] = latency.Milliseconds()

	v.events.LogSecurityEvent(ctx, auth.EventLoginFailed, metadata)
	v.logger.WithFields(metadata).Info("login failed")

	if v.metrics != nil {
		v.metrics.LoginAttemptsTotal.WithLabelValues(reason).Inc()
		v.metrics.LoginDuration.WithLabelValues("failure").Observe(latency.Seconds())
	}
}

func (v *Validator) succeeded(ctx context.Context, user *auth.User, reqCtx auth.RequestContext, start time.Time, method string) {
	v.lockout.Reset(ctx, user.Email)

	latency := v.now().Sub(start)
	metadata := requestMetadata(reqCtx)
	metadata["email"] = auth.MaskEmail(user.Email)
	metadata["user_id"] = user.ID
	metadata["method"] = method
	metadata["latency_ms"] = latency.Milliseconds()

	v.events.LogSecurityEvent(ctx, auth.EventLoginSuccess, metadata)

	if v.metrics != nil {
		v.metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
		v.metrics.LoginDuration.WithLabelValues("success").Observe(latency.Seconds())
	}
}

func requestMetadata(reqCtx auth.RequestContext) map[string]interface{} {
	metadata := make(map[string]interface{}, 8)
	if reqCtx.IPAddress != "" {
		metadata["ip_address"] = reqCtx.IPAddress
	}
	if reqCtx.UserAgent != "" {
		metadata["user_agent"] = reqCtx.UserAgent
	}
	if reqCtx.RequestID != "" {
		metadata["request_id"] = reqCtx.RequestID
	}
	return metadata
}
