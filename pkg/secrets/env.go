package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// EnvPrefix prefixes the per-organization client secret variable
const EnvPrefix = "GATEHOUSE_OIDC_SECRET_"

// EnvResolver reads GATEHOUSE_OIDC_SECRET_<ORG> where <ORG> is the
// organization id upper-cased with every other character replaced by '_'
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver reads from the process environment
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// EnvVarName returns the variable holding orgID's client secret
func EnvVarName(orgID string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range strings.ToUpper(orgID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (r *EnvResolver) ResolveClientSecret(ctx context.Context, orgID string) (string, error) {
	name := EnvVarName(orgID)
	if value, ok := r.lookup(name); ok && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%s is not set: %w", name, auth.ErrNotFound)
}
