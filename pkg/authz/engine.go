package authz

import "fmt"

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with a reason for audit and user
// messaging.
func Deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates permission and hierarchy checks against an immutable
// permission matrix. All methods are pure and never return errors;
// callers decide how to surface a negative result.
//
// The superadmin bypass lives here and only here, so it cannot drift
// out of sync between call sites.
type Engine struct {
	matrix *Matrix
}

// NewEngine creates an engine over the given matrix.
func NewEngine(matrix *Matrix) *Engine {
	return &Engine{matrix: matrix}
}

// HasPermission reports whether role holds the given permission.
// RoleSuperAdmin always does, independent of the matrix contents.
func (e *Engine) HasPermission(role Role, perm Permission) bool {
	if role == RoleSuperAdmin {
		return true
	}
	return e.matrix.permissionsFor(role).has(perm)
}

// Permissions returns the permissions a role holds, for display.
// RoleSuperAdmin reports every known permission.
func (e *Engine) Permissions(role Role) []Permission {
	if role == RoleSuperAdmin {
		return AllPermissions()
	}
	return e.matrix.Permissions(role)
}

// RankOf returns the rank of a role for relative comparison.
// RoleSuperAdmin ranks above every tenant-scoped role; unknown roles
// rank below everything (fail closed).
func (e *Engine) RankOf(role Role) int {
	if role == RoleSuperAdmin {
		return superAdminRank
	}
	if rank, ok := roleRanks[role]; ok {
		return rank
	}
	return -1
}

// HasMinimumRole reports whether role ranks at or above threshold.
func (e *Engine) HasMinimumRole(role, threshold Role) bool {
	return e.RankOf(role) >= e.RankOf(threshold)
}

// CanManageRole reports whether a principal holding managerRole may
// manage (assign, remove, cancel invitations for) targetRole. Nobody
// manages RoleSuperAdmin, and the strict inequality stops a principal
// from managing peers of identical rank.
func (e *Engine) CanManageRole(managerRole, targetRole Role) bool {
	if targetRole == RoleSuperAdmin {
		return false
	}
	if !targetRole.IsValid() || !managerRole.IsValid() {
		return false
	}
	return e.HasMinimumRole(managerRole, targetRole) && managerRole != targetRole
}

// InvitableRoles returns the roles a principal holding inviterRole may
// grant through an invitation: every tenant-scoped role ranking at or
// below the inviter's own.
func (e *Engine) InvitableRoles(inviterRole Role) []Role {
	inviterRank := e.RankOf(inviterRole)
	var roles []Role
	for _, r := range TenantRoles() {
		if e.RankOf(r) <= inviterRank {
			roles = append(roles, r)
		}
	}
	return roles
}

// CanInviteRole reports whether inviterRole may issue an invitation
// granting role.
func (e *Engine) CanInviteRole(inviterRole, role Role) bool {
	if role == RoleSuperAdmin || !role.IsValid() {
		return false
	}
	return e.RankOf(role) <= e.RankOf(inviterRole)
}

// CanTransitionRole decides whether changerRole may move a membership
// from currentRole to proposedRole. Self-targeted changes are rejected
// by the Membership Directory before this is consulted; ownership
// transfer has its own path and never goes through here.
func (e *Engine) CanTransitionRole(currentRole, proposedRole, changerRole Role) Decision {
	if !proposedRole.IsValid() || proposedRole == RoleSuperAdmin {
		return Deny("role %q cannot be assigned", proposedRole)
	}
	if !e.CanManageRole(changerRole, currentRole) {
		return Deny("role %q cannot manage a member holding role %q", changerRole, currentRole)
	}
	if !e.CanManageRole(changerRole, proposedRole) {
		return Deny("role %q cannot assign role %q", changerRole, proposedRole)
	}
	return Allow()
}
