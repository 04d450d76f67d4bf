package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Seed is the YAML document applied by the seed file
type Seed struct {
	Organizations []SeedOrganization `yaml:"organizations"`
	Users         []SeedUser         `yaml:"users"`
}

// SeedOrganization is an organization with an optional SSO configuration.
// The sso block uses the same keys as the stored JSON configuration.
type SeedOrganization struct {
	ID        string                 `yaml:"id"`
	Slug      string                 `yaml:"slug"`
	SeatLimit *int                   `yaml:"seat_limit"`
	SSO       map[string]interface{} `yaml:"sso"`
}

// SeedUser is a password user and their memberships
type SeedUser struct {
	Email         string           `yaml:"email"`
	Password      string           `yaml:"password"`
	DisplayName   string           `yaml:"display_name"`
	IsSystemAdmin bool             `yaml:"is_system_admin"`
	Memberships   []SeedMembership `yaml:"memberships"`
}

// SeedMembership grants roles in an organization
type SeedMembership struct {
	OrgID string      `yaml:"org_id"`
	Roles []auth.Role `yaml:"roles"`
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, org := range seed.Organizations {
		if org.ID == "" || org.Slug == "" {
			return nil, fmt.Errorf("seed organization %d needs an id and a slug", i)
		}
	}
	for i, user := range seed.Users {
		if user.Email == "" {
			return nil, fmt.Errorf("seed user %d needs an email", i)
		}
	}
	return &seed, nil
}

// ssoConfig converts the organization's sso block into a validated config
func (o SeedOrganization) ssoConfig() (*sso.SsoConfig, error) {
	if len(o.SSO) == 0 {
		return nil, nil
	}

	block := make(map[string]interface{}, len(o.SSO)+2)
	for k, v := range o.SSO {
		block[k] = v
	}
	block["org_id"] = o.ID
	block["org_slug"] = o.Slug

	data, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("organization %s: failed to encode sso block: %w", o.ID, err)
	}
	cfg, err := sso.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", o.ID, err)
	}
	return cfg, nil
}

// orgWriter creates organizations and stores SSO configurations in the
// selected backend
type orgWriter interface {
	CreateOrganization(ctx context.Context, id, slug string, seatLimit *int) error
	PutSSOConfig(ctx context.Context, cfg *sso.SsoConfig) error
}

// SeedResult counts what a seed run created
type SeedResult struct {
	Organizations int
	SSOConfigs    int
	Users         int
	Memberships   int
}

// ApplySeed creates the seed's organizations, SSO configurations, users
// and memberships. Existing records are left as they are.
func (a *App) ApplySeed(ctx context.Context, seed *Seed) (*SeedResult, error) {
	result := &SeedResult{}

	for _, org := range seed.Organizations {
		cfg, err := org.ssoConfig()
		if err != nil {
			return result, err
		}

		err = a.orgs.CreateOrganization(ctx, org.ID, org.Slug, org.SeatLimit)
		switch {
		case err == nil:
			result.Organizations++
		case errors.Is(err, auth.ErrAlreadyExists):
		default:
			return result, err
		}

		if cfg != nil {
			if err := a.orgs.PutSSOConfig(ctx, cfg); err != nil {
				return result, err
			}
			result.SSOConfigs++
		}
	}

	for _, su := range seed.Users {
		user, created, err := a.seedUser(ctx, su)
		if err != nil {
			return result, err
		}
		if created {
			result.Users++
		}

		for _, sm := range su.Memberships {
			created, err := a.seedMembership(ctx, user, sm)
			if err != nil {
				return result, err
			}
			if created {
				result.Memberships++
			}
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"organizations": result.Organizations,
		"sso_configs":   result.SSOConfigs,
		"users":         result.Users,
		"memberships":   result.Memberships,
	}).Info("Seed applied")
	return result, nil
}

func (a *App) seedUser(ctx context.Context, su SeedUser) (*auth.User, bool, error) {
	existing, err := a.users.FindByEmail(ctx, su.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	user := &auth.User{
		ID:            uuid.New().String(),
		Email:         auth.NormalizeEmail(su.Email),
		DisplayName:   su.DisplayName,
		IsSystemAdmin: su.IsSystemAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if su.Password != "" {
		hash, err := a.hasher.Hash(su.Password)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash password for %s: %w", auth.MaskEmail(su.Email), err)
		}
		user.PasswordHash = &hash
	}

	if err := a.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (a *App) seedMembership(ctx context.Context, user *auth.User, sm SeedMembership) (bool, error) {
	_, err := a.memberships.Find(ctx, user.ID, sm.OrgID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return false, err
	}

	if err := a.seats.Reserve(ctx, sm.OrgID, auth.SeatReasonMembership); err != nil {
		return false, fmt.Errorf("organization %s: %w", sm.OrgID, err)
	}

	roles := sm.Roles
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleOrgMember}
	}
	now := time.Now().UTC()
	err = a.memberships.Create(ctx, &auth.OrgMembership{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		OrgID:     sm.OrgID,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if releaseErr := a.seats.Release(ctx, sm.OrgID); releaseErr != nil {
			a.logger.WithError(releaseErr).WithField("org_id", sm.OrgID).Error("Failed to release seat")
		}
		return false, err
	}
	return true, nil
}
