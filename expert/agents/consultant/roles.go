package consultant

import (
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// problemCategory couples a learning-record category with the role whose
// specialty it maps to. Categories are checked in declaration order; the
// first hit names the category. Architecture is the default and maps to no
// keyword at all.
type problemCategory struct {
	name     string
	role     contractx.Role
	keywords []string
}

var problemCategories = []problemCategory{
	{"security", contractx.RoleSecurity, []string{"security", "vulnerab", "exploit", "injection", "auth", "secret", "credential"}},
	{"planning", contractx.RolePlanReviewer, []string{"plan", "roadmap", "milestone", "rollout"}},
	{"scoping", contractx.RoleScopeAnalyst, []string{"scope", "estimate", "effort", "how long", "how much work"}},
	{"code_review", contractx.RoleCodeReviewer, []string{"review", "bug", "refactor", "regression"}},
}

// classify maps a problem statement to a learning category and the roles
// whose keywords it triggered. Purely lexical and deterministic.
func classify(problem string) (string, []contractx.Role) {
	p := strings.ToLower(problem)
	name := ""
	var matched []contractx.Role
	for _, c := range problemCategories {
		for _, kw := range c.keywords {
			if strings.Contains(p, kw) {
				matched = append(matched, c.role)
				if name == "" {
					name = c.name
				}
				break
			}
		}
	}
	if name == "" {
		name = "architecture"
	}
	return name, matched
}

// autoRoles turns keyword matches into a usable role set. Single mode takes
// the first match, defaulting to the architect. Council mode takes the whole
// matched set and pads to two with the architect, then the code reviewer.
func autoRoles(matched []contractx.Role, mode contractx.Mode) []contractx.Role {
	if mode == contractx.ModeSingle {
		if len(matched) > 0 {
			return matched[:1]
		}
		return []contractx.Role{contractx.RoleArchitect}
	}

	roles := append([]contractx.Role(nil), matched...)
	for _, pad := range []contractx.Role{contractx.RoleArchitect, contractx.RoleCodeReviewer} {
		if len(roles) >= 2 {
			break
		}
		if !containsRole(roles, pad) {
			roles = append(roles, pad)
		}
	}
	return roles
}

func containsRole(roles []contractx.Role, role contractx.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// dedupeRoles validates explicit request roles and drops repeats, keeping
// request order.
func dedupeRoles(requested []contractx.Role) ([]contractx.Role, error) {
	seen := make(map[contractx.Role]bool, len(requested))
	out := make([]contractx.Role, 0, len(requested))
	for _, r := range requested {
		role, err := contractx.ParseRole(string(r))
		if err != nil {
			return nil, err
		}
		if seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out, nil
}
