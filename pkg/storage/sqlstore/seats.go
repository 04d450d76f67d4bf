package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Organization is the seat-bearing tenant record
type Organization struct {
	ID        string
	Slug      string
	SeatLimit *int // nil is unlimited
	SeatsUsed int
	CreatedAt time.Time
}

// SeatEnforcer is a SQL auth.SeatLimitEnforcer. Membership reservations
// consume a seat with a single conditional UPDATE, so concurrent callers
// can never exceed the limit. User creation reservations only check that a
// seat is free.
type SeatEnforcer struct {
	db *sql.DB
}

// NewSeatEnforcer creates a seat enforcer
func NewSeatEnforcer(db *sql.DB) *SeatEnforcer {
	return &SeatEnforcer{db: db}
}

// CreateOrganization inserts an organization with no seats used
func (s *SeatEnforcer) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, slug, seat_limit, seats_used, created_at) VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Slug, nullableInt(org.SeatLimit), org.SeatsUsed, org.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr("failed to create organization", err)
	}
	return nil
}

// Organization loads an organization's seat counts
func (s *SeatEnforcer) Organization(ctx context.Context, orgID string) (*Organization, error) {
	var (
		org   Organization
		limit sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, seat_limit, seats_used, created_at FROM organizations WHERE id = $1`,
		orgID,
	).Scan(&org.ID, &org.Slug, &limit, &org.SeatsUsed, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if limit.Valid {
		n := int(limit.Int64)
		org.SeatLimit = &n
	}
	return &org, nil
}

func (s *SeatEnforcer) Reserve(ctx context.Context, orgID string, reason auth.SeatReason) error {
	if reason != auth.SeatReasonMembership {
		org, err := s.Organization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("organization %s: %w", orgID, err)
		}
		if org.SeatLimit != nil && *org.SeatLimit > 0 && org.SeatsUsed >= *org.SeatLimit {
			return seatLimitError(*org.SeatLimit)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET seats_used = seats_used + 1
		WHERE id = $1 AND (seat_limit IS NULL OR seat_limit <= 0 OR seats_used < seat_limit)
	`, orgID)
	if err != nil {
		return fmt.Errorf("failed to reserve seat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	org, err := s.Organization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("organization %s: %w", orgID, err)
	}
	limit := 0
	if org.SeatLimit != nil {
		limit = *org.SeatLimit
	}
	return seatLimitError(limit)
}

// Release returns a seat consumed by a membership reservation
func (s *SeatEnforcer) Release(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET seats_used = seats_used - 1 WHERE id = $1 AND seats_used > 0`,
		orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to release seat: %w", err)
	}
	return nil
}

func seatLimitError(limit int) error {
	return auth.NewError(auth.CodeSeatLimitExceeded, fmt.Sprintf("organization has used all %d seats", limit), nil)
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
