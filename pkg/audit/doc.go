// Package audit records security events (login failures and successes,
// lockouts, JIT provisioning, SSO outcomes) to one or more sinks: the
// structured log, the security_events table and JSON-lines files.
//
// Recorder is the auth.SecurityEventLogger handed to the authentication
// components. It never surfaces sink errors to callers.
package audit
