// Package authz implements the role hierarchy and permission model for
// Boardroom tenants.
//
// # Overview
//
// Roles form a total order (owner > admin > chair > treasurer >
// secretary > trustee > viewer) with one distinguished global role,
// superadmin, that bypasses every per-tenant check. An immutable
// permission matrix maps each tenant-scoped role to the set of atomic
// permissions it holds; the matrix is built once at process start
// (optionally extended from a YAML policy file) and shared read-only
// across requests.
//
// The Engine exposes pure predicates over the matrix and hierarchy:
//
//	engine := authz.NewEngine(authz.NewMatrix())
//	engine.HasPermission(authz.RoleChair, authz.PermManageMeetings) // true
//	engine.CanManageRole(authz.RoleAdmin, authz.RoleTrustee)        // true
//	engine.InvitableRoles(authz.RoleTreasurer)
//
// The Engine never returns errors. Denials carry a reason string for
// audit and user messaging; callers translate them into their own error
// taxonomy.
//
// # Related Packages
//
//   - pkg/members: membership directory governed by these rules
//   - pkg/invites: invitation issuance bounded by InvitableRoles
//   - pkg/gate: per-request permission enforcement
package authz
