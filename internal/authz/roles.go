package authz

// RoleKind tags a resolved role with how the engine treats it.
type RoleKind uint8

const (
	// RoleAssigned is a role read from the role store.
	RoleAssigned RoleKind = iota
	// RoleImplicit is the baseline role every authenticated principal holds.
	RoleImplicit
	// RoleSuperAdmin skips policy evaluation entirely.
	RoleSuperAdmin
)

func (k RoleKind) String() string {
	switch k {
	case RoleImplicit:
		return "implicit"
	case RoleSuperAdmin:
		return "super_admin"
	default:
		return "assigned"
	}
}

// Role is a role name with its kind.
type Role struct {
	Name string
	Kind RoleKind
}

type roleTable map[string]RoleKind

func newRoleTable(opts Options) roleTable {
	table := roleTable{}
	if opts.ImplicitRole != "" {
		table[opts.ImplicitRole] = RoleImplicit
	}
	if opts.SuperAdminRole != "" {
		table[opts.SuperAdminRole] = RoleSuperAdmin
	}
	return table
}

func (t roleTable) kind(name string) RoleKind {
	if k, ok := t[name]; ok {
		return k
	}
	return RoleAssigned
}

// classify de-duplicates names in resolution order, tags them, and appends
// the implicit role when it is missing.
func (t roleTable) classify(names []string, implicit string) []Role {
	out := make([]Role, 0, len(names)+1)
	seen := make(map[string]struct{}, len(names)+1)
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Role{Name: name, Kind: t.kind(name)})
	}
	if implicit != "" {
		if _, ok := seen[implicit]; !ok {
			out = append(out, Role{Name: implicit, Kind: RoleImplicit})
		}
	}
	return out
}

func hasKind(roles []Role, kind RoleKind) bool {
	for _, r := range roles {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

func roleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}
