// Package auth holds the shared identity foundation used by both the
// password login flow and the SSO flow.
//
// # Overview
//
// Users, organization memberships, normalized assertion attributes and the
// session token issuer live here so that credential validation and SSO
// reconciliation depend on one package instead of on each other.
//
// # Key Components
//
// Typed errors: every failure surfaced by the engine is an *auth.Error with a
// stable code. Credential failures use a generic public message to avoid user
// enumeration.
//
//	if errors.Is(err, auth.ErrAccountLocked) {
//		// 401 with a retry-later hint
//	}
//
// Token issuance: superadmin status is derived on every issue and refresh,
// never trusted from an earlier token.
//
//	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
//		TTL:        24 * time.Hour,
//		HMACSecret: []byte(secret),
//	}, users, memberships)
//	token, err := issuer.Issue(ctx, user)
//
// Collaborators: UserStore, MembershipStore, SeatLimitEnforcer,
// SecurityEventLogger, PasswordHasher and SecretResolver are the interfaces
// the engine consumes. Implementations live in pkg/storage, pkg/password,
// pkg/audit and pkg/secrets.
package auth
