package provisioning

import (
	"sort"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// ResolveRoles maps IdP groups through the organization's group to role
// mappings. Unmapped groups are dropped. The result is deduplicated and
// sorted, and falls back to org_member when nothing maps.
func ResolveRoles(groups []string, mappings map[string]string) []auth.Role {
	seen := make(map[auth.Role]struct{}, len(groups))
	roles := make([]auth.Role, 0, len(groups))
	for _, group := range groups {
		role, ok := mappings[group]
		if !ok || role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	if len(roles) == 0 {
		return []auth.Role{auth.RoleOrgMember}
	}
	sort.Strings(roles)
	return roles
}
