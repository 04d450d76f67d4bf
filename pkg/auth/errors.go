package auth

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of authentication failure
type ErrorCode string

const (
	CodeInvalidCredentials    ErrorCode = "invalid_credentials"
	CodeAccountLocked         ErrorCode = "account_locked"
	CodeWeakPassword          ErrorCode = "weak_password"
	CodeUserNotProvisioned    ErrorCode = "user_not_provisioned"
	CodeDomainNotAllowed      ErrorCode = "domain_not_allowed"
	CodeSeatLimitExceeded     ErrorCode = "seat_limit_exceeded"
	CodeSsoInactive           ErrorCode = "sso_inactive"
	CodeSsoNotConfigured      ErrorCode = "sso_not_configured"
	CodeUnsupportedProtocol   ErrorCode = "unsupported_protocol"
	CodeConfigIncomplete      ErrorCode = "config_incomplete"
	CodeMissingEmailAttribute ErrorCode = "missing_email_attribute"
	CodeInvalidIdToken        ErrorCode = "invalid_id_token"
	CodeOidcExchangeFailed    ErrorCode = "oidc_exchange_failed"
	CodeAssertionUnverified   ErrorCode = "assertion_unverified"
	CodeInvalidSessionToken   ErrorCode = "invalid_session_token"
)

// PublicCredentialMessage is shown for every password login failure
// regardless of the internal reason.
const PublicCredentialMessage = "Invalid email or password"

// Error is a typed authentication error. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code so wrapped variants compare equal to the sentinels
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a typed error with a message and optional cause
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Errorf creates a typed error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks
var (
	ErrInvalidCredentials    = NewError(CodeInvalidCredentials, PublicCredentialMessage, nil)
	ErrAccountLocked         = NewError(CodeAccountLocked, "Too many failed login attempts, try again later", nil)
	ErrWeakPassword          = NewError(CodeWeakPassword, "Password must be at least 8 characters and contain an uppercase letter, a lowercase letter and a digit", nil)
	ErrUserNotProvisioned    = NewError(CodeUserNotProvisioned, "user is not provisioned for this organization", nil)
	ErrDomainNotAllowed      = NewError(CodeDomainNotAllowed, "email domain is not allowed for this organization", nil)
	ErrSeatLimitExceeded     = NewError(CodeSeatLimitExceeded, "organization seat limit reached", nil)
	ErrSsoInactive           = NewError(CodeSsoInactive, "SSO is not active for this organization", nil)
	ErrSsoNotConfigured      = NewError(CodeSsoNotConfigured, "SSO is not configured for this organization", nil)
	ErrUnsupportedProtocol   = NewError(CodeUnsupportedProtocol, "unsupported SSO protocol", nil)
	ErrConfigIncomplete      = NewError(CodeConfigIncomplete, "SSO configuration is incomplete", nil)
	ErrMissingEmailAttribute = NewError(CodeMissingEmailAttribute, "assertion does not carry an email address", nil)
	ErrInvalidIdToken        = NewError(CodeInvalidIdToken, "invalid ID token", nil)
	ErrOidcExchangeFailed    = NewError(CodeOidcExchangeFailed, "OIDC code exchange failed", nil)
	ErrAssertionUnverified   = NewError(CodeAssertionUnverified, "assertion signature could not be verified", nil)
	ErrInvalidSessionToken   = NewError(CodeInvalidSessionToken, "invalid session token", nil)
)

// Store sentinels
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists") // unique key violation
)

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// PublicMessage returns the message safe to show to the caller
func PublicMessage(err error) string {
	var authErr *Error
	if !errors.As(err, &authErr) {
		return "internal error"
	}
	if authErr.Code == CodeInvalidCredentials {
		return PublicCredentialMessage
	}
	return authErr.Message
}
