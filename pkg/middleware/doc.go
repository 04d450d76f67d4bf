// Package middleware provides HTTP middleware for session authentication and
// rate limiting.
//
// # Middleware Components
//
// SessionAuth: Bearer session token authentication
//
//	sessions := middleware.NewSessionAuth(tokenIssuer, logger)
//	router.Handle("/auth/me", sessions.Handler(meHandler))
//	// Verifies the token and stores *auth.Claims in the request context
//
// RateLimit: per-IP limiting in front of login and SSO callbacks
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.RateLimit(limiter, logger))
//
// With Redis configured, the fixed-window limiter shares counts across
// instances and fails open when Redis is unreachable:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//
// # Related Packages
//
//   - pkg/httputil: Request parsing and response helpers
//   - pkg/contextkeys: Context keys for claims
package middleware
