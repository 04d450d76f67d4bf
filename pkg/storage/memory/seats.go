package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

type seatCount struct {
	limit int // <= 0 is unlimited
	used  int
}

// SeatEnforcer is an in-memory auth.SeatLimitEnforcer. A membership
// reservation consumes a seat; a user_creation reservation only checks that
// one is free.
type SeatEnforcer struct {
	mu   sync.Mutex
	orgs map[string]*seatCount
}

// NewSeatEnforcer creates an enforcer with no organizations
func NewSeatEnforcer() *SeatEnforcer {
	return &SeatEnforcer{orgs: make(map[string]*seatCount)}
}

// SetOrganization registers an organization's seat limit and current usage
func (s *SeatEnforcer) SetOrganization(orgID string, limit, used int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[orgID] = &seatCount{limit: limit, used: used}
}

func (s *SeatEnforcer) Reserve(ctx context.Context, orgID string, reason auth.SeatReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return fmt.Errorf("organization %s: %w", orgID, auth.ErrNotFound)
	}
	if org.limit > 0 && org.used >= org.limit {
		return auth.NewError(auth.CodeSeatLimitExceeded, fmt.Sprintf("organization has used all %d seats", org.limit), nil)
	}
	if reason == auth.SeatReasonMembership {
		org.used++
	}
	return nil
}

// Release returns a seat consumed by a membership reservation
func (s *SeatEnforcer) Release(ctx context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return fmt.Errorf("organization %s: %w", orgID, auth.ErrNotFound)
	}
	if org.used > 0 {
		org.used--
	}
	return nil
}

// Used returns the seats consumed by an organization
func (s *SeatEnforcer) Used(orgID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org, ok := s.orgs[orgID]; ok {
		return org.used
	}
	return 0
}
