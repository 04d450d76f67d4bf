// Package secrets resolves per-organization OIDC client secrets from the
// environment or a hot-reloaded YAML file.
package secrets
