package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// SSOConfigStore is an in-memory sso.ConfigStore
type SSOConfigStore struct {
	mu     sync.RWMutex
	byOrg  map[string]*sso.SsoConfig
	bySlug map[string]string
}

// NewSSOConfigStore creates an empty store
func NewSSOConfigStore() *SSOConfigStore {
	return &SSOConfigStore{
		byOrg:  make(map[string]*sso.SsoConfig),
		bySlug: make(map[string]string),
	}
}

// Put validates and stores a configuration, replacing any previous one for
// the organization
func (s *SSOConfigStore) Put(cfg *sso.SsoConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byOrg[cfg.OrgID]; ok && old.OrgSlug != "" {
		delete(s.bySlug, old.OrgSlug)
	}
	s.byOrg[cfg.OrgID] = cfg
	if cfg.OrgSlug != "" {
		s.bySlug[cfg.OrgSlug] = cfg.OrgID
	}
	return nil
}

func (s *SSOConfigStore) ByOrgID(ctx context.Context, orgID string) (*sso.SsoConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.byOrg[orgID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cfg, nil
}

func (s *SSOConfigStore) BySlug(ctx context.Context, slug string) (*sso.SsoConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, ok := s.bySlug[slug]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.byOrg[orgID], nil
}

func (s *SSOConfigStore) ListActive(ctx context.Context) ([]*sso.SsoConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*sso.SsoConfig
	for _, cfg := range s.byOrg {
		if cfg.IsActive() {
			result = append(result, cfg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OrgID < result[j].OrgID })
	return result, nil
}
