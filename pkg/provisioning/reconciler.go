package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Values of the gatehouse_provisioned_total kind label
const (
	KindUser              = "user"
	KindMembership        = "membership"
	KindMembershipUpdated = "membership_updated"
	KindCompensated       = "compensated"
)

// seatReleaser is implemented by enforcers that can hand back a seat
// consumed by a membership reservation
type seatReleaser interface {
	Release(ctx context.Context, orgID string) error
}

// Result is the outcome of a reconciliation
type Result struct {
	User              *auth.User
	Membership        *auth.OrgMembership
	UserCreated       bool
	MembershipCreated bool
}

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithMetrics counts created and updated records
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithClock overrides the clock used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithIDGenerator overrides record id generation
func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) {
		r.newID = newID
	}
}

// Reconciler maps an authenticated SSO identity onto local records
type Reconciler struct {
	users       auth.UserStore
	memberships auth.MembershipStore
	seats       auth.SeatLimitEnforcer
	events      auth.SecurityEventLogger
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
	newID       func() string
}

// NewReconciler creates a reconciler. events may be nil.
func NewReconciler(users auth.UserStore, memberships auth.MembershipStore, seats auth.SeatLimitEnforcer, events auth.SecurityEventLogger, opts ...Option) (*Reconciler, error) {
	if users == nil || memberships == nil || seats == nil {
		return nil, errors.New("users, memberships and seats are required")
	}

	r := &Reconciler{
		users:       users,
		memberships: memberships,
		seats:       seats,
		events:      events,
		logger:      observability.NewNopLogger(),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile finds or creates the user for attrs.Email and ensures an
// enabled membership in orgID whose roles reflect attrs.Groups. A rejected
// seat reservation leaves no records behind.
func (r *Reconciler) Reconcile(ctx context.Context, orgID string, attrs *auth.AssertionAttributes, cfg *sso.SsoConfig) (*Result, error) {
	if cfg == nil {
		return nil, auth.ErrSsoNotConfigured
	}
	if !cfg.IsActive() {
		return nil, auth.ErrSsoInactive
	}
	if attrs == nil || attrs.Email == "" {
		return nil, auth.ErrMissingEmailAttribute
	}

	email := auth.NormalizeEmail(attrs.Email)
	if !cfg.DomainAllowed(email) {
		return nil, auth.Errorf(auth.CodeDomainNotAllowed, "email domain %s is not allowed for this organization", auth.EmailDomain(email))
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"org_id": orgID,
		"email":  auth.MaskEmail(email),
	})

	result := &Result{}

	user, err := r.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		result.User = user
	case errors.Is(err, auth.ErrNotFound):
		if !cfg.JITProvisioningEnabled {
			return nil, auth.ErrUserNotProvisioned
		}
		user, created, err := r.createUser(ctx, orgID, email, attrs.Name)
		if err != nil {
			return nil, err
		}
		result.User = user
		result.UserCreated = created
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	roles := ResolveRoles(attrs.Groups, cfg.GroupToRoleMappings)

	membership, created, err := r.ensureMembership(ctx, result.User.ID, orgID, roles)
	if err != nil {
		if result.UserCreated {
			r.compensate(ctx, result.User, logger)
		}
		return nil, err
	}
	result.Membership = membership
	result.MembershipCreated = created

	logger.WithFields(map[string]interface{}{
		"user_id":            result.User.ID,
		"user_created":       result.UserCreated,
		"membership_created": result.MembershipCreated,
		"roles":              roles,
	}).Info("identity reconciled")

	return result, nil
}

// createUser reserves a seat and creates the user. A concurrent creation
// of the same email is resolved by reading the winner's record.
func (r *Reconciler) createUser(ctx context.Context, orgID, email, name string) (*auth.User, bool, error) {
	if err := r.seats.Reserve(ctx, orgID, auth.SeatReasonUserCreation); err != nil {
		return nil, false, seatError(err)
	}

	if name == "" {
		name = auth.LocalPart(email)
	}
	now := r.now().UTC()
	user := &auth.User{
		ID:          r.newID(),
		Email:       email,
		DisplayName: name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.users.Create(ctx, user); err != nil {
		if !errors.Is(err, auth.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		existing, err := r.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up concurrently created user: %w", err)
		}
		return existing, false, nil
	}

	r.count(KindUser)
	if r.events != nil {
		r.events.LogSecurityEvent(ctx, auth.EventUserProvisioned, map[string]interface{}{
			"email":   auth.MaskEmail(email),
			"user_id": user.ID,
			"org_id":  orgID,
			"source":  "sso_jit",
		})
	}
	return user, true, nil
}

// ensureMembership creates the membership, consuming a seat, or refreshes
// the roles of an existing one and re-enables it
func (r *Reconciler) ensureMembership(ctx context.Context, userID, orgID string, roles []auth.Role) (*auth.OrgMembership, bool, error) {
	existing, err := r.memberships.Find(ctx, userID, orgID)
	if err == nil {
		return r.refreshMembership(ctx, existing, roles)
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up membership: %w", err)
	}

	if err := r.seats.Reserve(ctx, orgID, auth.SeatReasonMembership); err != nil {
		return nil, false, seatError(err)
	}

	now := r.now().UTC()
	membership := &auth.OrgMembership{
		ID:        r.newID(),
		UserID:    userID,
		OrgID:     orgID,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.memberships.Create(ctx, membership); err != nil {
		r.releaseSeat(ctx, orgID)
		if !errors.Is(err, auth.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("failed to create membership: %w", err)
		}
		existing, err := r.memberships.Find(ctx, userID, orgID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up concurrently created membership: %w", err)
		}
		return r.refreshMembership(ctx, existing, roles)
	}

	r.count(KindMembership)
	return membership, true, nil
}

func (r *Reconciler) refreshMembership(ctx context.Context, m *auth.OrgMembership, roles []auth.Role) (*auth.OrgMembership, bool, error) {
	if err := r.memberships.UpdateRoles(ctx, m.ID, roles); err != nil {
		return nil, false, fmt.Errorf("failed to update membership roles: %w", err)
	}
	m.Roles = roles
	m.IsDisabled = false
	m.UpdatedAt = r.now().UTC()
	r.count(KindMembershipUpdated)
	return m, false, nil
}

// compensate removes a user created earlier in the same reconciliation
func (r *Reconciler) compensate(ctx context.Context, user *auth.User, logger *observability.Logger) {
	if err := r.users.Delete(ctx, user.ID); err != nil && !errors.Is(err, auth.ErrNotFound) {
		logger.WithError(err).WithField("user_id", user.ID).Error("failed to remove user after membership was rejected")
		return
	}
	r.count(KindCompensated)
	logger.WithField("user_id", user.ID).Info("removed user created for a rejected membership")
}

func (r *Reconciler) releaseSeat(ctx context.Context, orgID string) {
	releaser, ok := r.seats.(seatReleaser)
	if !ok {
		return
	}
	if err := releaser.Release(ctx, orgID); err != nil {
		r.logger.WithError(err).WithField("org_id", orgID).Warn("failed to release seat")
	}
}

func (r *Reconciler) count(kind string) {
	if r.metrics != nil {
		r.metrics.ProvisionedTotal.WithLabelValues(kind).Inc()
	}
}

// seatError keeps seat limit rejections typed and wraps everything else
func seatError(err error) error {
	if errors.Is(err, auth.ErrSeatLimitExceeded) {
		return err
	}
	return fmt.Errorf("seat reservation failed: %w", err)
}
