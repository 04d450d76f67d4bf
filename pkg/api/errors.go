package api

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// statusForCode maps an authentication error code to an HTTP status
func statusForCode(code auth.ErrorCode) int {
	switch code {
	case auth.CodeInvalidCredentials, auth.CodeAccountLocked, auth.CodeInvalidSessionToken:
		return http.StatusUnauthorized
	case auth.CodeWeakPassword, auth.CodeInvalidIdToken, auth.CodeMissingEmailAttribute, auth.CodeAssertionUnverified:
		return http.StatusBadRequest
	case auth.CodeDomainNotAllowed, auth.CodeUserNotProvisioned, auth.CodeSsoInactive:
		return http.StatusForbidden
	case auth.CodeSeatLimitExceeded:
		return http.StatusConflict
	case auth.CodeSsoNotConfigured:
		return http.StatusNotFound
	case auth.CodeOidcExchangeFailed:
		return http.StatusBadGateway
	case auth.CodeConfigIncomplete, auth.CodeUnsupportedProtocol:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError writes err as a coded JSON error. Untyped errors become a
// bare 500 and are logged; their text never reaches the client.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	code := auth.CodeOf(err)
	if code == "" {
		observability.FromContext(r.Context(), logger).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteCodedError(w, statusForCode(code), string(code), auth.PublicMessage(err))
}
