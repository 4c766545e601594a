package authz

import (
	"fmt"
	"strings"
)

// Role represents a named position a principal holds within one tenant.
// RoleSuperAdmin is the only global role; it is handled as an unconditional
// bypass inside the Engine and never appears in the permission matrix.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleChair      Role = "chair"
	RoleTreasurer  Role = "treasurer"
	RoleSecretary  Role = "secretary"
	RoleTrustee    Role = "trustee"
	RoleViewer     Role = "viewer"
)

// roleRanks is the role hierarchy. Ranks are only used for relative
// comparison inside this package and are never exposed as raw numbers.
// Every tenant-scoped role has a unique rank; RoleSuperAdmin sits above
// all of them (see Engine.RankOf).
var roleRanks = map[Role]int{
	RoleOwner:     70,
	RoleAdmin:     60,
	RoleChair:     50,
	RoleTreasurer: 45,
	RoleSecretary: 40,
	RoleTrustee:   30,
	RoleViewer:    10,
}

// superAdminRank is strictly above every entry in roleRanks.
const superAdminRank = 1 << 20

// TenantRoles returns all tenant-scoped roles in descending rank order.
func TenantRoles() []Role {
	return []Role{
		RoleOwner,
		RoleAdmin,
		RoleChair,
		RoleTreasurer,
		RoleSecretary,
		RoleTrustee,
		RoleViewer,
	}
}

// IsValid reports whether r is a known role (including RoleSuperAdmin).
func (r Role) IsValid() bool {
	if r == RoleSuperAdmin {
		return true
	}
	_, ok := roleRanks[r]
	return ok
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Permission represents an atomic, checkable capability. Permissions are
// grouped by resource family ("family:action") but have no structure
// beyond identity.
type Permission string

const (
	// Tenant management
	PermManageTenant Permission = "tenant:manage"
	PermDeleteTenant Permission = "tenant:delete"

	// Membership
	PermInviteMember Permission = "member:invite"
	PermAssignRole   Permission = "member:assign_role"
	PermRemoveMember Permission = "member:remove"
	PermViewMembers  Permission = "member:view"

	// Billing
	PermManageBilling Permission = "billing:manage"
	PermViewBilling   Permission = "billing:view"

	// Governance documents
	PermCreateDocument Permission = "document:create"
	PermUpdateDocument Permission = "document:update"
	PermDeleteDocument Permission = "document:delete"
	PermViewDocuments  Permission = "document:view"

	// Meetings and minutes
	PermManageMeetings Permission = "meeting:manage"
	PermViewMeetings   Permission = "meeting:view"

	// Finances
	PermManageFinances Permission = "finance:manage"
	PermViewFinances   Permission = "finance:view"

	// Audit trail
	PermViewAudit  Permission = "audit:view"
	PermPurgeAudit Permission = "audit:purge"
)

// AllPermissions returns every known permission.
func AllPermissions() []Permission {
	return []Permission{
		PermManageTenant, PermDeleteTenant,
		PermInviteMember, PermAssignRole, PermRemoveMember, PermViewMembers,
		PermManageBilling, PermViewBilling,
		PermCreateDocument, PermUpdateDocument, PermDeleteDocument, PermViewDocuments,
		PermManageMeetings, PermViewMeetings,
		PermManageFinances, PermViewFinances,
		PermViewAudit, PermPurgeAudit,
	}
}

// IsValid reports whether p is a known permission.
func (p Permission) IsValid() bool {
	for _, known := range AllPermissions() {
		if p == known {
			return true
		}
	}
	return false
}
