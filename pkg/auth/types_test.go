package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"regular address", "alice@example.com", "al***@example.com"},
		{"short local part", "a@example.com", "a***@example.com"},
		{"two char local part", "ab@x.io", "ab***@x.io"},
		{"no domain", "alice", "***@***"},
		{"trailing at", "alice@", "***@***"},
		{"empty", "", "***@***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskEmail(tt.email))
		})
	}
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "corp.com", EmailDomain("u@Corp.com"))
	assert.Equal(t, "", EmailDomain("nodomain"))
	assert.Equal(t, "", EmailDomain("u@"))
	assert.Equal(t, "b.com", EmailDomain("weird@a@b.com"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@corp.com", NormalizeEmail("  User@Corp.COM "))
}

func TestUser_Sanitized(t *testing.T) {
	hash := "$argon2id$..."
	user := &User{ID: "u1", Email: "u@corp.com", PasswordHash: &hash}

	clean := user.Sanitized()
	require.NotNil(t, clean)
	assert.Nil(t, clean.PasswordHash)
	assert.Equal(t, "u1", clean.ID)
	assert.True(t, user.HasPassword(), "original must be untouched")
	assert.False(t, clean.HasPassword())

	var nilUser *User
	assert.Nil(t, nilUser.Sanitized())
}

func TestOrgMembership_HasRole(t *testing.T) {
	m := &OrgMembership{Roles: []Role{RoleOrgMember, RoleSuperAdmin}}
	assert.True(t, m.HasRole(RoleSuperAdmin))
	assert.False(t, m.HasRole("billing_admin"))
}

func TestError_Is(t *testing.T) {
	err := NewError(CodeSeatLimitExceeded, "org-1 is full", nil)
	wrapped := fmt.Errorf("reconcile: %w", err)

	assert.True(t, errors.Is(wrapped, ErrSeatLimitExceeded))
	assert.False(t, errors.Is(wrapped, ErrDomainNotAllowed))
	assert.Equal(t, CodeSeatLimitExceeded, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(CodeOidcExchangeFailed, "token endpoint unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublicMessage(t *testing.T) {
	internal := NewError(CodeInvalidCredentials, "user not found", nil)
	assert.Equal(t, PublicCredentialMessage, PublicMessage(internal))
	assert.Equal(t, ErrSsoInactive.Message, PublicMessage(ErrSsoInactive))
	assert.Equal(t, "internal error", PublicMessage(errors.New("db down")))
}
