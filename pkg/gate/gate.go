// Package gate is the single entry point for authorization on the HTTP
// surface: it resolves the caller's identity, binds it to a tenant
// membership, and evaluates the required permission, in that order.
//
// The three denial outcomes stay distinct all the way to the wire:
// UNAUTHENTICATED (no identity), NO_MEMBERSHIP (identity but no active
// membership in the tenant), FORBIDDEN (membership without the
// permission). This is also the only layer that maps fault codes to
// HTTP status codes; services below it speak codes only.
package gate

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// RoleSource resolves the active role of a principal within a tenant
type RoleSource interface {
	GetActiveRole(ctx context.Context, tenantID, principalID int64) (authz.Role, error)
}

// Gate guards tenant-scoped routes.
type Gate struct {
	resolver Resolver
	roles    RoleSource
	engine   *authz.Engine
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// New creates a gate. recorder and metrics may be nil.
func New(resolver Resolver, roles RoleSource, engine *authz.Engine, recorder audit.Recorder, metrics *observability.Metrics, logger *observability.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		roles:    roles,
		engine:   engine,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

type contextKey string

const (
	identityKey contextKey = "gate_identity"
	actorKey    contextKey = "gate_actor"
)

// IdentityFrom returns the authenticated identity stored by Authenticate
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// ActorFrom returns the tenant-bound actor stored by RequirePermission
func ActorFrom(ctx context.Context) (members.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(members.Actor)
	return actor, ok
}

// Authenticate resolves the caller's identity and stores it in the
// request context. Requests without a resolvable identity end here.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.resolver.Resolve(r)
		if err != nil {
			g.deny(r, "unauthenticated", nil)
			WriteFault(w, fault.Unauthenticated("authentication required"))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission guards a tenant-scoped route. The tenant ID is
// taken from the route's {tenantID} variable. On success the resolved
// actor (principal plus tenant role) is stored in the context.
func (g *Gate) RequirePermission(perm authz.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				WriteFault(w, fault.Unauthenticated("authentication required"))
				return
			}

			tenantID, err := httputil.PathInt64(r, "tenantID")
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			actor := members.Actor{
				PrincipalID:  identity.PrincipalID,
				IsSuperAdmin: identity.IsSuperAdmin,
			}

			// Engine-level bypass: superadmins hold every permission
			// without a membership row.
			if !identity.IsSuperAdmin {
				role, err := g.roles.GetActiveRole(r.Context(), tenantID, identity.PrincipalID)
				if err != nil {
					if fault.IsCode(err, fault.CodeNoMembership) {
						g.deny(r, "no_membership", &tenantID)
						WriteFault(w, err)
						return
					}
					g.logger.WithError(err).Error("membership resolution failed")
					httputil.WriteInternalError(w)
					return
				}
				actor.Role = role
			}

			allowed := g.engine.HasPermission(actor.EffectiveRole(), perm)
			if g.metrics != nil {
				g.metrics.PermissionChecksTotal.WithLabelValues(string(perm), strconv.FormatBool(allowed)).Inc()
			}
			if !allowed {
				g.deny(r, "forbidden", &tenantID)
				WriteFault(w, fault.Forbidden("role %q lacks permission %q", actor.Role, perm))
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMembership guards routes any active member may use,
// regardless of role. The resolved actor is stored in the context.
func (g *Gate) RequireMembership() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				WriteFault(w, fault.Unauthenticated("authentication required"))
				return
			}

			tenantID, err := httputil.PathInt64(r, "tenantID")
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			actor := members.Actor{
				PrincipalID:  identity.PrincipalID,
				IsSuperAdmin: identity.IsSuperAdmin,
			}
			if !identity.IsSuperAdmin {
				role, err := g.roles.GetActiveRole(r.Context(), tenantID, identity.PrincipalID)
				if err != nil {
					if fault.IsCode(err, fault.CodeNoMembership) {
						g.deny(r, "no_membership", &tenantID)
						WriteFault(w, err)
						return
					}
					g.logger.WithError(err).Error("membership resolution failed")
					httputil.WriteInternalError(w)
					return
				}
				actor.Role = role
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gate) deny(r *http.Request, outcome string, tenantID *int64) {
	if g.metrics != nil {
		g.metrics.AccessDeniedTotal.WithLabelValues(outcome).Inc()
	}
	if g.recorder == nil {
		return
	}
	entry := &audit.Entry{
		TenantID:     tenantID,
		Action:       audit.ActionAccessDenied,
		ResourceType: audit.ResourceMembership,
		Details:      map[string]interface{}{"outcome": outcome, "path": r.URL.Path},
		RequestID:    observability.GetRequestID(r.Context()),
	}
	if identity, ok := IdentityFrom(r.Context()); ok {
		entry.PrincipalID = &identity.PrincipalID
	}
	audit.BestEffort(r.Context(), g.recorder, g.logger, entry)
}

// WriteFault maps a fault code to an HTTP response. This is the only
// place in the codebase where codes become status codes.
func WriteFault(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		httputil.WriteInternalError(w)
		return
	}

	status := http.StatusInternalServerError
	switch fe.Code {
	case fault.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case fault.CodeNoMembership, fault.CodeForbidden:
		status = http.StatusForbidden
	case fault.CodeNotFound, fault.CodeInvalidInvitation:
		status = http.StatusNotFound
	case fault.CodeAlreadyMember, fault.CodeInvitationPending, fault.CodeAlreadyAccepted, fault.CodeConflict:
		status = http.StatusConflict
	}

	httputil.WriteErrorCode(w, status, string(fe.Code), fe.Message)
}
