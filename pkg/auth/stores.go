package auth

import "context"

// UserStore persists users. Lookups by email are case-insensitive.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// Delete is only used to undo a creation in the same reconciliation
	Delete(ctx context.Context, userID string) error
}

// MembershipStore persists organization memberships
type MembershipStore interface {
	Find(ctx context.Context, userID, orgID string) (*OrgMembership, error)
	Create(ctx context.Context, membership *OrgMembership) error
	// UpdateRoles replaces the role set and re-enables the membership
	UpdateRoles(ctx context.Context, membershipID string, roles []Role) error
	ListByUser(ctx context.Context, userID string) ([]*OrgMembership, error)
}

// SeatReason says what a seat reservation is for
type SeatReason string

const (
	SeatReasonUserCreation SeatReason = "user_creation"
	SeatReasonMembership   SeatReason = "membership"
)

// SeatLimitEnforcer admits or rejects consumption of an organization seat.
// Implementations must be atomic across concurrent callers and return an
// error matching ErrSeatLimitExceeded on rejection.
type SeatLimitEnforcer interface {
	Reserve(ctx context.Context, orgID string, reason SeatReason) error
}

// Security event names
const (
	EventLoginFailed      = "login_failed"
	EventLoginSuccess     = "login_success"
	EventUserProvisioned  = "user_provisioned"
	EventSSOLoginSuccess  = "sso_login_success"
	EventSSOLoginFailed   = "sso_login_failed"
	EventAccountLocked    = "account_locked"
	EventPasswordAssigned = "password_assigned"
)

// SecurityEventLogger records security-relevant events. Implementations
// must not block the caller on sink failures.
type SecurityEventLogger interface {
	LogSecurityEvent(ctx context.Context, event string, metadata map[string]interface{})
}

// PasswordHasher hashes and verifies passwords with fixed cost parameters
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// SecretResolver resolves per-organization secrets such as an OIDC
// client secret.
type SecretResolver interface {
	ResolveClientSecret(ctx context.Context, orgID string) (string, error)
}
