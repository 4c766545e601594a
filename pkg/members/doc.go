// Package members manages the binding between principals and tenants:
// one membership row per (tenant, principal) pair carrying exactly one
// role and an active flag.
//
// Role changes and deactivations lock the membership row so concurrent
// mutations serialize, are authorized against the acting member's rank,
// and are audited synchronously. Reads of the role on the permission
// check path go through an optional Redis cache with a short TTL.
package members
