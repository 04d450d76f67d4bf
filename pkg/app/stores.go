package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

// seatStore reserves and releases organization seats
type seatStore interface {
	auth.SeatLimitEnforcer
	Release(ctx context.Context, orgID string) error
}

// backend is the set of stores one database driver provides
type backend struct {
	db          *sql.DB
	users       auth.UserStore
	memberships auth.MembershipStore
	seats       seatStore
	configs     sso.ConfigStore
	orgs        orgWriter
}

func newMemoryBackend() *backend {
	seats := memory.NewSeatEnforcer()
	configs := memory.NewSSOConfigStore()
	return &backend{
		users:       memory.NewUserStore(),
		memberships: memory.NewMembershipStore(),
		seats:       seats,
		configs:     configs,
		orgs:        &memoryOrgs{seats: seats, configs: configs, known: make(map[string]bool)},
	}
}

func newSQLBackend(db *sql.DB) *backend {
	stores := sqlstore.NewStores(db)
	return &backend{
		db:          db,
		users:       stores.Users,
		memberships: stores.Memberships,
		seats:       stores.Seats,
		configs:     stores.SSOConfigs,
		orgs:        &sqlOrgs{stores: stores},
	}
}

type memoryOrgs struct {
	mu      sync.Mutex
	seats   *memory.SeatEnforcer
	configs *memory.SSOConfigStore
	known   map[string]bool
}

func (m *memoryOrgs) CreateOrganization(_ context.Context, id, _ string, seatLimit *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.known[id] {
		return fmt.Errorf("organization %s: %w", id, auth.ErrAlreadyExists)
	}
	limit := 0
	if seatLimit != nil {
		limit = *seatLimit
	}
	m.seats.SetOrganization(id, limit, 0)
	m.known[id] = true
	return nil
}

func (m *memoryOrgs) PutSSOConfig(_ context.Context, cfg *sso.SsoConfig) error {
	return m.configs.Put(cfg)
}

type sqlOrgs struct {
	stores *sqlstore.Stores
}

func (s *sqlOrgs) CreateOrganization(ctx context.Context, id, slug string, seatLimit *int) error {
	return s.stores.Seats.CreateOrganization(ctx, &sqlstore.Organization{ID: id, Slug: slug, SeatLimit: seatLimit})
}

func (s *sqlOrgs) PutSSOConfig(ctx context.Context, cfg *sso.SsoConfig) error {
	return s.stores.SSOConfigs.Put(ctx, cfg)
}
