// Package api exposes the login and SSO flows over HTTP.
//
// # Routes
//
//	POST /auth/login                 {"email","password"} -> session token
//	POST /auth/refresh               Bearer token -> fresh session token
//	GET  /auth/me                    Bearer token -> current user
//	GET  /auth/sso/{org}/login       302 to the IdP (?returnUrl=/path)
//	POST /auth/sso/saml/callback     SAMLResponse + RelayState form post
//	GET  /auth/sso/oidc/callback     ?code=&state=
//
// SSO callbacks answer JSON clients (Accept: application/json) with the token
// in the body. Browsers are redirected to the return URL with the token in
// the URL fragment so it never reaches server logs.
//
// # Errors
//
// Failures are {"error": "...", "code": "..."} where code is the
// authentication error code, for example "seat_limit_exceeded" (409) or
// "domain_not_allowed" (403).
package api
