package rediscache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

var _ sso.ConfigStore = (*ConfigStore)(nil)

type countingStore struct {
	sso.ConfigStore
	lookups int32
}

func (c *countingStore) ByOrgID(ctx context.Context, orgID string) (*sso.SsoConfig, error) {
	atomic.AddInt32(&c.lookups, 1)
	return c.ConfigStore.ByOrgID(ctx, orgID)
}

func (c *countingStore) BySlug(ctx context.Context, slug string) (*sso.SsoConfig, error) {
	atomic.AddInt32(&c.lookups, 1)
	return c.ConfigStore.BySlug(ctx, slug)
}

func setupCache(t *testing.T) (*ConfigStore, *countingStore, *memory.SSOConfigStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{URL: "redis://" + mr.Addr(), DB: -1})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	backend := memory.NewSSOConfigStore()
	require.NoError(t, backend.Put(&sso.SsoConfig{
		OrgID:    "org-1",
		OrgSlug:  "acme",
		Protocol: sso.ProtocolSAML,
		Status:   sso.StatusActive,
		Saml: &sso.SamlConfig{
			SPEntityID: "https://gatehouse.example.com/saml/acme",
			ACSURL:     "https://gatehouse.example.com/auth/sso/saml/callback",
			IdpSSOURL:  "https://idp.acme.test/sso",
		},
		GroupToRoleMappings: map[string]string{"Admins": "admin"},
	}))

	counting := &countingStore{ConfigStore: backend}
	return NewConfigStore(counting, client, time.Minute, nil), counting, backend, mr
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{URL: "redis://" + mr.Addr(), DB: -1, PoolSize: 5})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 5, client.Options().PoolSize)

	_, err = NewClient(context.Background(), Config{URL: "not-a-url"})
	assert.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), Config{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestConfigStore_ReadThrough(t *testing.T) {
	cache, counting, _, mr := setupCache(t)
	ctx := context.Background()

	first, err := cache.BySlug(ctx, "acme")
	require.NoError(t, err)
	second, err := cache.BySlug(ctx, "acme")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.lookups))
	assert.Equal(t, first.OrgID, second.OrgID)
	assert.Equal(t, "https://idp.acme.test/sso", second.Saml.IdpSSOURL)
	assert.Equal(t, "admin", second.GroupToRoleMappings["Admins"])
	assert.True(t, mr.Exists("sso:slug:acme"))
	assert.Equal(t, time.Minute, mr.TTL("sso:slug:acme"))
}

func TestConfigStore_NotFoundIsNotCached(t *testing.T) {
	cache, counting, _, mr := setupCache(t)
	ctx := context.Background()

	_, err := cache.ByOrgID(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = cache.ByOrgID(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assert.Equal(t, int32(2), atomic.LoadInt32(&counting.lookups))
	assert.False(t, mr.Exists("sso:org:missing"))
}

func TestConfigStore_Invalidate(t *testing.T) {
	cache, counting, backend, _ := setupCache(t)
	ctx := context.Background()

	_, err := cache.ByOrgID(ctx, "org-1")
	require.NoError(t, err)

	updated, err := backend.ByOrgID(ctx, "org-1")
	require.NoError(t, err)
	updated.Status = sso.StatusInactive
	require.NoError(t, backend.Put(updated))

	stale, err := cache.ByOrgID(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, stale.IsActive())

	require.NoError(t, cache.Invalidate(ctx, "org-1", "acme"))
	fresh, err := cache.ByOrgID(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, fresh.IsActive())
	assert.Equal(t, int32(2), atomic.LoadInt32(&counting.lookups))
}

func TestConfigStore_FallsBackWhenRedisFails(t *testing.T) {
	cache, counting, _, mr := setupCache(t)
	ctx := context.Background()

	mr.SetError("ERR server unavailable")
	defer mr.SetError("")

	cfg, err := cache.ByOrgID(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.OrgSlug)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.lookups))
}

func TestConfigStore_CorruptEntry(t *testing.T) {
	cache, counting, _, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("sso:org:org-1", "{not json"))

	cfg, err := cache.ByOrgID(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", cfg.OrgID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.lookups))

	cached, err := mr.Get("sso:org:org-1")
	require.NoError(t, err)
	assert.Contains(t, cached, `"org_id":"org-1"`)
}
