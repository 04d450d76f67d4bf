// Package sso normalizes SAML and OIDC identity assertions.
//
// It holds the per-organization SsoConfig variant, the assertion parsers
// that turn SAML XML and ID token payloads into auth.AssertionAttributes,
// signature verification with gosaml2 and go-oidc, SP-initiated login URL
// construction, IdP metadata resolution and the OIDC code exchange.
package sso

import "time"

// defaultHTTPTimeout bounds every outbound IdP call when no client is given
const defaultHTTPTimeout = 10 * time.Second
