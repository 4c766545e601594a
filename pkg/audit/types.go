package audit

import (
	"time"
)

// Action identifies a privilege-relevant mutation.
type Action string

const (
	// Membership actions
	ActionMemberAdd        Action = "member.add"
	ActionMemberRoleChange Action = "member.role_change"
	ActionMemberDeactivate Action = "member.deactivate"
	ActionMemberReactivate Action = "member.reactivate"

	// Invitation actions
	ActionInvitationIssue  Action = "invitation.issue"
	ActionInvitationAccept Action = "invitation.accept"
	ActionInvitationCancel Action = "invitation.cancel"
	ActionInvitationResend Action = "invitation.resend"

	// Tenant actions
	ActionTenantCreate Action = "tenant.create"
	ActionTenantDelete Action = "tenant.delete"

	// Access decisions
	ActionAccessDenied Action = "access.denied"

	// Retention
	ActionAuditPurge Action = "audit.purge"
)

// ResourceType identifies the kind of resource an entry refers to.
type ResourceType string

const (
	ResourceMembership ResourceType = "membership"
	ResourceInvitation ResourceType = "invitation"
	ResourceTenant     ResourceType = "tenant"
	ResourceAuditLog   ResourceType = "audit_log"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted except by the explicit retention sweep.
type Entry struct {
	ID           int64                  `json:"id"`
	TenantID     *int64                 `json:"tenant_id,omitempty"`
	PrincipalID  *int64                 `json:"principal_id,omitempty"`
	Action       Action                 `json:"action"`
	ResourceType ResourceType           `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// syncActions are the action classes whose audit writes are
// compliance-mandated: a failure to record fails the whole operation.
var syncActions = map[Action]struct{}{
	ActionMemberRoleChange: {},
	ActionMemberDeactivate: {},
	ActionInvitationIssue:  {},
	ActionInvitationAccept: {},
}

// IsSynchronous reports whether an action's audit write must propagate
// failure to the caller instead of being best-effort.
func IsSynchronous(a Action) bool {
	_, ok := syncActions[a]
	return ok
}

// QueryFilter narrows tenant-scoped audit queries. Results are always
// ordered by occurred_at descending.
type QueryFilter struct {
	Actions      []Action
	ResourceType ResourceType
	PrincipalID  *int64
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// RetentionPolicy defines how long audit entries are kept before the
// retention sweep removes them.
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy keeps entries for seven years, matching the
// longest governance record-keeping requirement we serve.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 7 * 365}
}
