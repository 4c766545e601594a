package tenants

import "time"

// Tenant is one charity organization using the portal. Deletion is
// soft: DeletedAt is set and the tenant stops resolving, but rows
// referencing it stay intact for the audit trail.
type Tenant struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Principal is a person known to the portal, identified by email.
// Authentication happens upstream; this registry only maps emails to
// stable IDs so memberships and invitations can reference them.
type Principal struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateTenantRequest asks to provision a new tenant
type CreateTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}
