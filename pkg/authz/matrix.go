package authz

// permissionSet is a set of permissions.
type permissionSet map[Permission]struct{}

func (s permissionSet) has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func newPermissionSet(perms ...Permission) permissionSet {
	s := make(permissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Matrix is an immutable mapping from tenant-scoped roles to the
// permissions they hold. It is computed once at process start and never
// mutated afterwards, so concurrent reads need no synchronization.
// RoleSuperAdmin is deliberately excluded: the Engine treats it as an
// unconditional bypass rather than a maximal permission set, so the
// matrix cannot drift out of sync when new permissions are added.
type Matrix struct {
	grants map[Role]permissionSet
}

// NewMatrix builds the default permission matrix covering every
// tenant-scoped role. The mapping is total: a role missing from the
// grant table maps to the empty set, never to "all".
func NewMatrix() *Matrix {
	m := &Matrix{grants: make(map[Role]permissionSet, len(roleRanks))}

	m.grants[RoleOwner] = newPermissionSet(
		PermManageTenant, PermDeleteTenant,
		PermInviteMember, PermAssignRole, PermRemoveMember, PermViewMembers,
		PermManageBilling, PermViewBilling,
		PermCreateDocument, PermUpdateDocument, PermDeleteDocument, PermViewDocuments,
		PermManageMeetings, PermViewMeetings,
		PermManageFinances, PermViewFinances,
		PermViewAudit, PermPurgeAudit,
	)

	m.grants[RoleAdmin] = newPermissionSet(
		PermManageTenant,
		PermInviteMember, PermAssignRole, PermRemoveMember, PermViewMembers,
		PermViewBilling,
		PermCreateDocument, PermUpdateDocument, PermDeleteDocument, PermViewDocuments,
		PermManageMeetings, PermViewMeetings,
		PermManageFinances, PermViewFinances,
		PermViewAudit,
	)

	m.grants[RoleChair] = newPermissionSet(
		PermViewMembers,
		PermCreateDocument, PermUpdateDocument, PermViewDocuments,
		PermManageMeetings, PermViewMeetings,
		PermViewFinances,
		PermViewAudit,
	)

	m.grants[RoleTreasurer] = newPermissionSet(
		PermViewMembers,
		PermViewDocuments,
		PermViewMeetings,
		PermManageFinances, PermViewFinances,
		PermViewBilling,
	)

	m.grants[RoleSecretary] = newPermissionSet(
		PermViewMembers,
		PermCreateDocument, PermUpdateDocument, PermViewDocuments,
		PermViewMeetings,
	)

	m.grants[RoleTrustee] = newPermissionSet(
		PermViewMembers,
		PermViewDocuments,
		PermViewMeetings,
		PermViewFinances,
	)

	m.grants[RoleViewer] = newPermissionSet(
		PermViewDocuments,
		PermViewMeetings,
	)

	return m
}

// permissionsFor returns the permission set for a role. Unknown roles
// yield the empty set (fail closed).
func (m *Matrix) permissionsFor(role Role) permissionSet {
	return m.grants[role]
}

// Permissions returns the permissions held by a role, for display.
func (m *Matrix) Permissions(role Role) []Permission {
	set := m.grants[role]
	perms := make([]Permission, 0, len(set))
	for _, p := range AllPermissions() {
		if set.has(p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// grant adds a permission to a role's set. Only used during matrix
// construction, before the matrix is published.
func (m *Matrix) grant(role Role, perm Permission) {
	set, ok := m.grants[role]
	if !ok {
		set = make(permissionSet)
		m.grants[role] = set
	}
	set[perm] = struct{}{}
}
