package lockout

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	// AttemptsKeyPrefix prefixes the per-identity failure counter
	AttemptsKeyPrefix = "login_attempts:"
	// LockKeyPrefix prefixes the per-identity lock flag
	LockKeyPrefix = "account_lockout:"

	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Minute
	DefaultOpTimeout = 500 * time.Millisecond
)

// Config holds lockout policy
type Config struct {
	// Threshold is the failure count that triggers a lock
	Threshold int
	// Window is both the counter TTL and the lock duration
	Window time.Duration
	// OpTimeout bounds every counter store call
	OpTimeout time.Duration
}

// DefaultConfig returns 5 attempts per 15 minutes
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
		OpTimeout: DefaultOpTimeout,
	}
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithMetrics records lockouts and swallowed store errors
func WithMetrics(metrics *observability.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = metrics
	}
}

// WithEventLogger emits an account_locked security event when a lock is set
func WithEventLogger(events auth.SecurityEventLogger) Option {
	return func(t *Tracker) {
		t.events = events
	}
}

// Tracker is the per-identity brute-force state machine.
//
// Policy: the tracker fails open. Any counter store error is logged at warn
// level and treated as "no failures recorded", so a cache outage never
// blocks logins. Password verification still runs in that case.
type Tracker struct {
	store   CounterStore
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	events  auth.SecurityEventLogger
}

// NewTracker creates a tracker. Zero config values take the defaults.
func NewTracker(store CounterStore, cfg Config, logger *observability.Logger, opts ...Option) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	t := &Tracker{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config returns the effective policy
func (t *Tracker) Config() Config {
	return t.cfg
}

// IsLocked reports whether the identity is currently locked. Returns false
// when the store is unavailable.
func (t *Tracker) IsLocked(ctx context.Context, identity string) bool {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	locked, err := t.store.Exists(ctx, lockKey(identity))
	if err != nil {
		t.storeError("exists", identity, err)
		return false
	}
	return locked
}

// RecordFailure counts a failed attempt and sets the lock flag once the
// threshold is reached. Never returns an error.
func (t *Tracker) RecordFailure(ctx context.Context, identity string) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	key := attemptsKey(identity)
	count, err := t.store.Incr(ctx, key)
	if err != nil {
		t.storeError("incr", identity, err)
		return
	}

	// The window starts at the first failure and is not extended by later ones
	if count == 1 {
		if err := t.store.Expire(ctx, key, t.cfg.Window); err != nil {
			t.storeError("expire", identity, err)
		}
	}

	if count < int64(t.cfg.Threshold) {
		return
	}

	if err := t.store.Set(ctx, lockKey(identity), "1", t.cfg.Window); err != nil {
		t.storeError("set", identity, err)
		return
	}

	if count == int64(t.cfg.Threshold) {
		t.logger.WithFields(map[string]interface{}{
			"email":    auth.MaskEmail(identity),
			"attempts": count,
			"window":   t.cfg.Window.String(),
		}).Warn("account locked after repeated login failures")
		if t.metrics != nil {
			t.metrics.LockoutsTotal.Inc()
		}
		if t.events != nil {
			t.events.LogSecurityEvent(ctx, auth.EventAccountLocked, map[string]interface{}{
				"email":    auth.MaskEmail(identity),
				"attempts": count,
			})
		}
	}
}

// Reset clears both the counter and the lock flag
func (t *Tracker) Reset(ctx context.Context, identity string) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	if err := t.store.Del(ctx, attemptsKey(identity), lockKey(identity)); err != nil {
		t.storeError("del", identity, err)
	}
}

// Status returns the current failure count and lock flag. Unlike the other
// methods it surfaces store errors, for administrative reads.
func (t *Tracker) Status(ctx context.Context, identity string) (attempts int64, locked bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	attempts, err = t.store.Get(ctx, attemptsKey(identity))
	if err != nil {
		return 0, false, err
	}
	locked, err = t.store.Exists(ctx, lockKey(identity))
	if err != nil {
		return 0, false, err
	}
	return attempts, locked, nil
}

func (t *Tracker) storeError(op, identity string, err error) {
	t.logger.WithError(err).WithFields(map[string]interface{}{
		"op":    op,
		"email": auth.MaskEmail(identity),
	}).Warn("lockout store unavailable, failing open")
	if t.metrics != nil {
		t.metrics.LockoutStoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

func attemptsKey(identity string) string {
	return AttemptsKeyPrefix + auth.NormalizeEmail(identity)
}

func lockKey(identity string) string {
	return LockKeyPrefix + auth.NormalizeEmail(identity)
}
