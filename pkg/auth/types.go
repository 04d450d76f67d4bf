package auth

import (
	"strings"
	"time"
)

// Role is an organization membership role
type Role = string

const (
	RoleOrgMember  Role = "org_member" // Default when no group maps to a role
	RoleSuperAdmin Role = "superadmin" // Platform-wide admin, in any organization
)

// User represents a platform account. Email is the natural key.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name,omitempty"`
	PasswordHash  *string   `json:"-"` // Absent for SSO-only users
	IsSystemAdmin bool      `json:"is_system_admin"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPassword reports whether a password hash has been set
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Sanitized returns a copy of the user without the password hash
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = nil
	return &clone
}

// OrgMembership links a user to an organization. (UserID, OrgID) is unique.
type OrgMembership struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	OrgID      string    `json:"org_id"`
	Roles      []Role    `json:"roles"`
	IsDisabled bool      `json:"is_disabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasRole reports whether the membership carries the given role
func (m *OrgMembership) HasRole(role Role) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AssertionAttributes is the protocol-neutral view of an authenticated
// subject produced from a SAML assertion or an OIDC ID token.
type AssertionAttributes struct {
	Subject string   `json:"subject"`
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Groups  []string `json:"groups,omitempty"` // nil when the IdP sent none
}

// RequestContext carries request metadata for security events
type RequestContext struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after the last '@', or "" if there is none
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// LocalPart returns the part of an email before the first '@'
func LocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// MaskEmail hides most of the local part for logging.
// "alice@example.com" becomes "al***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + domain
}
