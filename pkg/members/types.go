package members

import (
	"time"

	"github.com/trusteekit/boardroom/pkg/authz"
)

// Membership binds a principal to a tenant with exactly one role.
// A principal has at most one membership row per tenant; deactivation
// flips IsActive instead of deleting the row so history survives.
type Membership struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	PrincipalID int64      `json:"principal_id"`
	Role        authz.Role `json:"role"`
	IsActive    bool       `json:"is_active"`
	JoinedAt    time.Time  `json:"joined_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Actor identifies the caller performing a membership mutation. Role
// is the caller's role within the target tenant; it is ignored when
// IsSuperAdmin is set.
type Actor struct {
	PrincipalID  int64
	Role         authz.Role
	IsSuperAdmin bool
}

// EffectiveRole returns the role the authorization engine should see
func (a Actor) EffectiveRole() authz.Role {
	if a.IsSuperAdmin {
		return authz.RoleSuperAdmin
	}
	return a.Role
}

// ChangeRoleRequest asks to move a member to a different role
type ChangeRoleRequest struct {
	NewRole authz.Role `json:"new_role"`
}
