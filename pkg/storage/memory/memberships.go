package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// MembershipStore is an in-memory auth.MembershipStore
type MembershipStore struct {
	mu    sync.RWMutex
	byID  map[string]*auth.OrgMembership
	byKey map[string]string // userID/orgID -> membership id
}

// NewMembershipStore creates an empty store
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		byID:  make(map[string]*auth.OrgMembership),
		byKey: make(map[string]string),
	}
}

func membershipKey(userID, orgID string) string {
	return userID + "/" + orgID
}

func (s *MembershipStore) Find(ctx context.Context, userID, orgID string) (*auth.OrgMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[membershipKey(userID, orgID)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneMembership(s.byID[id]), nil
}

// Create enforces uniqueness of (user, org)
func (s *MembershipStore) Create(ctx context.Context, m *auth.OrgMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey(m.UserID, m.OrgID)
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("membership for user %s in organization %s: %w", m.UserID, m.OrgID, auth.ErrAlreadyExists)
	}
	s.byID[m.ID] = cloneMembership(m)
	s.byKey[key] = m.ID
	return nil
}

func (s *MembershipStore) UpdateRoles(ctx context.Context, membershipID string, roles []auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[membershipID]
	if !ok {
		return auth.ErrNotFound
	}
	m.Roles = append([]auth.Role(nil), roles...)
	m.IsDisabled = false
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MembershipStore) ListByUser(ctx context.Context, userID string) ([]*auth.OrgMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*auth.OrgMembership
	for _, m := range s.byID {
		if m.UserID == userID {
			result = append(result, cloneMembership(m))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OrgID < result[j].OrgID })
	return result, nil
}

// SetDisabled toggles a membership; administrative collaborators use it
func (s *MembershipStore) SetDisabled(ctx context.Context, membershipID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[membershipID]
	if !ok {
		return auth.ErrNotFound
	}
	m.IsDisabled = disabled
	return nil
}

// Count returns the number of stored memberships
func (s *MembershipStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneMembership(m *auth.OrgMembership) *auth.OrgMembership {
	clone := *m
	clone.Roles = append([]auth.Role(nil), m.Roles...)
	return &clone
}
