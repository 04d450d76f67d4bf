package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// SSOConfigStore is a SQL sso.ConfigStore. The variant is stored as JSON;
// protocol and status are duplicated into columns for filtering.
type SSOConfigStore struct {
	db *sql.DB
}

// NewSSOConfigStore creates an SSO configuration store
func NewSSOConfigStore(db *sql.DB) *SSOConfigStore {
	return &SSOConfigStore{db: db}
}

const ssoConfigSelect = `
	SELECT c.org_id, o.slug, c.protocol, c.status, c.config
	FROM sso_configs c
	JOIN organizations o ON o.id = c.org_id
`

// Put validates and upserts an organization's configuration
func (s *SSOConfigStore) Put(ctx context.Context, cfg *sso.SsoConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal SSO config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sso_configs (org_id, protocol, status, config, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id) DO UPDATE SET
			protocol = excluded.protocol,
			status = excluded.status,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, cfg.OrgID, string(cfg.Protocol), string(cfg.Status), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store SSO config: %w", err)
	}
	return nil
}

func (s *SSOConfigStore) ByOrgID(ctx context.Context, orgID string) (*sso.SsoConfig, error) {
	return scanSSOConfig(s.db.QueryRowContext(ctx, ssoConfigSelect+` WHERE c.org_id = $1`, orgID))
}

func (s *SSOConfigStore) BySlug(ctx context.Context, slug string) (*sso.SsoConfig, error) {
	return scanSSOConfig(s.db.QueryRowContext(ctx, ssoConfigSelect+` WHERE o.slug = $1`, slug))
}

// ListActive skips rows that no longer validate
func (s *SSOConfigStore) ListActive(ctx context.Context) ([]*sso.SsoConfig, error) {
	rows, err := s.db.QueryContext(ctx, ssoConfigSelect+` WHERE c.status = $1 ORDER BY c.org_id`, string(sso.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list SSO configs: %w", err)
	}
	defer rows.Close()

	var result []*sso.SsoConfig
	for rows.Next() {
		cfg, err := scanSSOConfig(rows)
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				continue
			}
			return nil, err
		}
		result = append(result, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list SSO configs: %w", err)
	}
	return result, nil
}

func scanSSOConfig(row rowScanner) (*sso.SsoConfig, error) {
	var orgID, slug, protocol, status, data string
	err := row.Scan(&orgID, &slug, &protocol, &status, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get SSO config: %w", err)
	}

	var cfg sso.SsoConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode SSO config for organization %s: %w", orgID, err)
	}
	cfg.OrgID = orgID
	cfg.OrgSlug = slug
	cfg.Protocol = sso.Protocol(protocol)
	cfg.Status = sso.Status(status)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
