// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, token)
//	httputil.WriteCodedError(w, http.StatusForbidden, "domain_not_allowed", "email domain is not allowed")
//	httputil.WriteBadRequest(w, "email is required")
//
// Error bodies are always {"error": "...", "code": "..."}.
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	token, ok := httputil.BearerToken(r)
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Session authentication and rate limiting
package httputil
