// Package authflow composes credential validation, SSO assertion handling,
// JIT provisioning and token issuance into the two sign-in flows.
//
// A password login runs the credential validator and issues a token. An SSO
// login is two legs: BeginSSOLogin returns the IdP redirect, and the SAML or
// OIDC callback verifies the assertion, reconciles the identity and issues a
// token. Every SSO stage is recorded as a span event and in
// gatehouse_sso_flow_total.
//
//	orch, err := authflow.New(authflow.Dependencies{...})
//	result, err := orch.HandleOIDCCallback(ctx, code, state)
package authflow
