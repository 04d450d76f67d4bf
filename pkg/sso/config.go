package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Protocol is the SSO protocol of an organization
type Protocol string

const (
	ProtocolSAML Protocol = "SAML"
	ProtocolOIDC Protocol = "OIDC"
)

// Status is the activation state of an SSO configuration
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Default attribute and claim names
const (
	DefaultEmailAttribute  = "email"
	DefaultNameAttribute   = "name"
	DefaultGroupsAttribute = "groups"
)

// AttributeMapping names the IdP attributes (SAML) or claims (OIDC) that
// carry the subject's email, display name and groups.
type AttributeMapping struct {
	Email  string `json:"email_attribute,omitempty" yaml:"email_attribute"`
	Name   string `json:"name_attribute,omitempty" yaml:"name_attribute"`
	Groups string `json:"groups_attribute,omitempty" yaml:"groups_attribute"`
}

// WithDefaults fills empty names with email/name/groups
func (m AttributeMapping) WithDefaults() AttributeMapping {
	if m.Email == "" {
		m.Email = DefaultEmailAttribute
	}
	if m.Name == "" {
		m.Name = DefaultNameAttribute
	}
	if m.Groups == "" {
		m.Groups = DefaultGroupsAttribute
	}
	return m
}

// SamlConfig holds the SAML 2.0 side of an SSO configuration
type SamlConfig struct {
	SPEntityID     string           `json:"sp_entity_id"`
	ACSURL         string           `json:"acs_url"`
	IdpSSOURL      string           `json:"idp_sso_url,omitempty"`
	IdpEntityID    string           `json:"idp_entity_id,omitempty"`
	MetadataURL    string           `json:"metadata_url,omitempty"`
	MetadataXML    string           `json:"metadata_xml,omitempty"`
	IdpCertificate string           `json:"idp_certificate,omitempty"` // PEM
	Attributes     AttributeMapping `json:"attributes"`
}

// OidcConfig holds the OpenID Connect side of an SSO configuration.
// The client secret is never stored here; see auth.SecretResolver.
type OidcConfig struct {
	Issuer                string           `json:"issuer,omitempty"`
	ClientID              string           `json:"client_id"`
	AuthorizationEndpoint string           `json:"authorization_endpoint"`
	TokenEndpoint         string           `json:"token_endpoint"`
	UserinfoEndpoint      string           `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string           `json:"jwks_uri,omitempty"`
	RedirectURL           string           `json:"redirect_url"`
	Claims                AttributeMapping `json:"claims"`
}

// SsoConfig is the per-organization SSO configuration. Exactly one of Saml
// or Oidc is set, matching Protocol.
type SsoConfig struct {
	OrgID                  string            `json:"org_id"`
	OrgSlug                string            `json:"org_slug"`
	Protocol               Protocol          `json:"protocol"`
	Status                 Status            `json:"status"`
	Saml                   *SamlConfig       `json:"saml,omitempty"`
	Oidc                   *OidcConfig       `json:"oidc,omitempty"`
	AllowedDomains         []string          `json:"allowed_domains,omitempty"`
	GroupToRoleMappings    map[string]string `json:"group_to_role_mappings,omitempty"`
	JITProvisioningEnabled bool              `json:"jit_provisioning_enabled"`
}

// IsActive reports whether the configuration may be used to sign in
func (c *SsoConfig) IsActive() bool {
	return c.Status == StatusActive
}

// Validate checks the variant shape once at load time. Completeness of
// the protocol endpoints is checked when a login URL is built.
func (c *SsoConfig) Validate() error {
	if c.OrgID == "" {
		return auth.Errorf(auth.CodeConfigIncomplete, "SSO configuration is missing an organization id")
	}

	switch c.Status {
	case StatusActive, StatusInactive:
	default:
		return auth.Errorf(auth.CodeConfigIncomplete, "unknown SSO status %q", c.Status)
	}

	switch c.Protocol {
	case ProtocolSAML:
		if c.Saml == nil {
			return auth.Errorf(auth.CodeConfigIncomplete, "SAML configuration is missing for organization %s", c.OrgID)
		}
		if c.Oidc != nil {
			return auth.Errorf(auth.CodeConfigIncomplete, "SAML configuration for organization %s also carries OIDC settings", c.OrgID)
		}
	case ProtocolOIDC:
		if c.Oidc == nil {
			return auth.Errorf(auth.CodeConfigIncomplete, "OIDC configuration is missing for organization %s", c.OrgID)
		}
		if c.Saml != nil {
			return auth.Errorf(auth.CodeConfigIncomplete, "OIDC configuration for organization %s also carries SAML settings", c.OrgID)
		}
	default:
		return auth.Errorf(auth.CodeUnsupportedProtocol, "unsupported SSO protocol %q", c.Protocol)
	}

	for group, role := range c.GroupToRoleMappings {
		if strings.TrimSpace(group) == "" || strings.TrimSpace(role) == "" {
			return auth.Errorf(auth.CodeConfigIncomplete, "group to role mappings must not contain empty names")
		}
	}
	return nil
}

// DomainAllowed reports whether the email's domain may sign in. An empty
// allow list permits every domain.
func (c *SsoConfig) DomainAllowed(email string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	domain := auth.EmailDomain(email)
	if domain == "" {
		return false
	}
	for _, allowed := range c.AllowedDomains {
		if strings.EqualFold(strings.TrimSpace(allowed), domain) {
			return true
		}
	}
	return false
}

// ParseConfig decodes a JSON document into a validated SsoConfig
func ParseConfig(data []byte) (*SsoConfig, error) {
	var cfg SsoConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode SSO config: %w", err)
	}
	cfg.Protocol = Protocol(strings.ToUpper(string(cfg.Protocol)))
	cfg.Status = Status(strings.ToUpper(string(cfg.Status)))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigStore loads SSO configurations. Absent organizations return
// auth.ErrNotFound.
type ConfigStore interface {
	ByOrgID(ctx context.Context, orgID string) (*SsoConfig, error)
	BySlug(ctx context.Context, slug string) (*SsoConfig, error)
	ListActive(ctx context.Context) ([]*SsoConfig, error)
}
