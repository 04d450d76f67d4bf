package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// ChainResolver asks each resolver in turn and returns the first secret
// found. Errors other than not-found stop the chain.
type ChainResolver struct {
	resolvers []auth.SecretResolver
}

// NewChainResolver creates a chain
func NewChainResolver(resolvers ...auth.SecretResolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

func (c *ChainResolver) ResolveClientSecret(ctx context.Context, orgID string) (string, error) {
	for _, resolver := range c.resolvers {
		secret, err := resolver.ResolveClientSecret(ctx, orgID)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("no client secret for organization %s: %w", orgID, auth.ErrNotFound)
}
