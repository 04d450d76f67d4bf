package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func TestSsoConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SsoConfig
		expected error
	}{
		{"valid saml", SsoConfig{OrgID: "o", Protocol: ProtocolSAML, Status: StatusActive, Saml: &SamlConfig{}}, nil},
		{"valid oidc", SsoConfig{OrgID: "o", Protocol: ProtocolOIDC, Status: StatusInactive, Oidc: &OidcConfig{}}, nil},
		{"missing org", SsoConfig{Protocol: ProtocolSAML, Status: StatusActive, Saml: &SamlConfig{}}, auth.ErrConfigIncomplete},
		{"unknown status", SsoConfig{OrgID: "o", Protocol: ProtocolSAML, Status: "PAUSED", Saml: &SamlConfig{}}, auth.ErrConfigIncomplete},
		{"saml without variant", SsoConfig{OrgID: "o", Protocol: ProtocolSAML, Status: StatusActive}, auth.ErrConfigIncomplete},
		{"saml with both variants", SsoConfig{OrgID: "o", Protocol: ProtocolSAML, Status: StatusActive, Saml: &SamlConfig{}, Oidc: &OidcConfig{}}, auth.ErrConfigIncomplete},
		{"oidc without variant", SsoConfig{OrgID: "o", Protocol: ProtocolOIDC, Status: StatusActive}, auth.ErrConfigIncomplete},
		{"unknown protocol", SsoConfig{OrgID: "o", Protocol: "CAS", Status: StatusActive}, auth.ErrUnsupportedProtocol},
		{"empty mapping", SsoConfig{OrgID: "o", Protocol: ProtocolOIDC, Status: StatusActive, Oidc: &OidcConfig{}, GroupToRoleMappings: map[string]string{"eng": ""}}, auth.ErrConfigIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

func TestSsoConfig_DomainAllowed(t *testing.T) {
	open := &SsoConfig{}
	assert.True(t, open.DomainAllowed("u@anything.com"))

	restricted := &SsoConfig{AllowedDomains: []string{"corp.com", " Corp.IO "}}
	assert.True(t, restricted.DomainAllowed("u@corp.com"))
	assert.True(t, restricted.DomainAllowed("u@CORP.io"))
	assert.False(t, restricted.DomainAllowed("u@evil.com"))
	assert.False(t, restricted.DomainAllowed("u@sub.corp.com"))
	assert.False(t, restricted.DomainAllowed("no-domain"))
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"org_id": "org-1",
		"org_slug": "acme",
		"protocol": "oidc",
		"status": "active",
		"oidc": {"client_id": "c", "authorization_endpoint": "https://idp/authorize", "claims": {"groups_attribute": "roles"}},
		"allowed_domains": ["corp.com"],
		"group_to_role_mappings": {"admins": "org_admin"},
		"jit_provisioning_enabled": true
	}`))
	require.NoError(t, err)
	assert.Equal(t, ProtocolOIDC, cfg.Protocol)
	assert.True(t, cfg.IsActive())
	assert.Equal(t, "roles", cfg.Oidc.Claims.Groups)
	assert.Equal(t, "email", cfg.Oidc.Claims.WithDefaults().Email)
	assert.True(t, cfg.JITProvisioningEnabled)

	_, err = ParseConfig([]byte(`{"org_id":"o","protocol":"ldap","status":"ACTIVE"}`))
	assert.ErrorIs(t, err, auth.ErrUnsupportedProtocol)

	_, err = ParseConfig([]byte(`not json`))
	assert.Error(t, err)
}
