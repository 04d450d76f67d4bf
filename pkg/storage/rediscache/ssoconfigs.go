package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// DefaultConfigTTL bounds how long a cached SSO configuration is served
// after it changes in the backing store without an explicit invalidation.
const DefaultConfigTTL = 5 * time.Minute

// ConfigStore is a read-through Redis cache in front of another
// sso.ConfigStore. Cache errors fall back to the backing store; lookups
// that fail in the backing store are never cached. ListActive is not
// cached.
type ConfigStore struct {
	backend sso.ConfigStore
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
}

// NewConfigStore wraps backend with a cache
func NewConfigStore(backend sso.ConfigStore, client *redis.Client, ttl time.Duration, logger *observability.Logger) *ConfigStore {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ConfigStore{backend: backend, client: client, ttl: ttl, logger: logger}
}

func orgKey(orgID string) string { return fmt.Sprintf("sso:org:%s", orgID) }
func slugKey(slug string) string { return fmt.Sprintf("sso:slug:%s", slug) }

func (c *ConfigStore) ByOrgID(ctx context.Context, orgID string) (*sso.SsoConfig, error) {
	return c.lookup(ctx, orgKey(orgID), func() (*sso.SsoConfig, error) {
		return c.backend.ByOrgID(ctx, orgID)
	})
}

func (c *ConfigStore) BySlug(ctx context.Context, slug string) (*sso.SsoConfig, error) {
	return c.lookup(ctx, slugKey(slug), func() (*sso.SsoConfig, error) {
		return c.backend.BySlug(ctx, slug)
	})
}

func (c *ConfigStore) ListActive(ctx context.Context) ([]*sso.SsoConfig, error) {
	return c.backend.ListActive(ctx)
}

// Invalidate drops cached entries for an organization
func (c *ConfigStore) Invalidate(ctx context.Context, orgID, slug string) error {
	keys := []string{orgKey(orgID)}
	if slug != "" {
		keys = append(keys, slugKey(slug))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (c *ConfigStore) lookup(ctx context.Context, key string, load func() (*sso.SsoConfig, error)) (*sso.SsoConfig, error) {
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cfg sso.SsoConfig
		if err := json.Unmarshal([]byte(cached), &cfg); err == nil {
			return &cfg, nil
		}
		// Corrupt entry
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("key", key).Warn("SSO config cache read failed")
	}

	cfg, err := load()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cfg)
	if err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("SSO config cache write failed")
		}
	}
	return cfg, nil
}
