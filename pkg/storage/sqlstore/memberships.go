package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// MembershipStore is a SQL auth.MembershipStore. Roles are stored as a
// JSON array.
type MembershipStore struct {
	db *sql.DB
}

// NewMembershipStore creates a membership store
func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

const membershipColumns = `id, user_id, org_id, roles, is_disabled, created_at, updated_at`

func (s *MembershipStore) Find(ctx context.Context, userID, orgID string) (*auth.OrgMembership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM org_memberships WHERE user_id = $1 AND org_id = $2`,
		userID, orgID,
	)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return m, err
}

// Create inserts a membership; a duplicate (user, org) yields
// auth.ErrAlreadyExists
func (s *MembershipStore) Create(ctx context.Context, m *auth.OrgMembership) error {
	rolesJSON, err := json.Marshal(m.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO org_memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.UserID, m.OrgID, string(rolesJSON), m.IsDisabled, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return wrapWriteErr("failed to create membership", err)
	}
	return nil
}

// UpdateRoles replaces the role set and re-enables the membership
func (s *MembershipStore) UpdateRoles(ctx context.Context, membershipID string, roles []auth.Role) error {
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE org_memberships SET roles = $1, is_disabled = $2, updated_at = $3 WHERE id = $4`,
		string(rolesJSON), false, time.Now().UTC(), membershipID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership roles: %w", err)
	}
	return requireOneRow(result)
}

func (s *MembershipStore) ListByUser(ctx context.Context, userID string) ([]*auth.OrgMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM org_memberships WHERE user_id = $1 ORDER BY org_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []*auth.OrgMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*auth.OrgMembership, error) {
	var (
		m         auth.OrgMembership
		rolesJSON string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &rolesJSON, &m.IsDisabled, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &m.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	return &m, nil
}
