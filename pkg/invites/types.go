package invites

import (
	"time"

	"github.com/trusteekit/boardroom/pkg/authz"
)

// Status is the lifecycle state of an invitation. Expired is derived
// from ExpiresAt at read time, never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Invitation is a single-use, time-limited offer of membership. Only
// the SHA-256 hash of the token is stored; the plaintext is returned
// to the issuer exactly once.
type Invitation struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Email       string     `json:"email"`
	Role        authz.Role `json:"role"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	InvitedBy   int64      `json:"invited_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy  *int64     `json:"accepted_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// StatusAt derives the lifecycle state at the given instant. Terminal
// states win over expiry: an accepted invitation stays accepted even
// after its window has passed.
func (i *Invitation) StatusAt(now time.Time) Status {
	switch {
	case i.CancelledAt != nil:
		return StatusCancelled
	case i.AcceptedAt != nil:
		return StatusAccepted
	case !now.Before(i.ExpiresAt):
		return StatusExpired
	default:
		return StatusPending
	}
}

// IsTerminal reports whether the invitation can never be accepted again
func (i *Invitation) IsTerminal() bool {
	return i.AcceptedAt != nil || i.CancelledAt != nil
}

// Preview is what validate exposes to an unauthenticated token holder:
// enough to render an accept page, nothing that re-exposes the token.
type Preview struct {
	TenantID   int64      `json:"tenant_id"`
	TenantName string     `json:"tenant_name"`
	Email      string     `json:"email"`
	Role       authz.Role `json:"role"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// IssueRequest asks to invite an email address at a role
type IssueRequest struct {
	Email string     `json:"email"`
	Role  authz.Role `json:"role"`
}

// Issued is the response to a successful issue or resend. Token is the
// plaintext, present here and nowhere else.
type Issued struct {
	Invitation *Invitation `json:"invitation"`
	Token      string      `json:"token"`
}
