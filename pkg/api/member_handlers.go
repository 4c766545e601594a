package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// MemberHandlers serves membership endpoints
type MemberHandlers struct {
	svc    members.Service
	engine *authz.Engine
	logger *observability.Logger
}

// RegisterRoutes attaches membership routes to the authenticated subrouter
func (h *MemberHandlers) RegisterRoutes(r *mux.Router, g *gate.Gate) {
	r.Handle("/tenants/{tenantID:[0-9]+}/members",
		g.RequirePermission(authz.PermViewMembers)(http.HandlerFunc(h.List))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID:[0-9]+}/members/{principalID:[0-9]+}/role",
		g.RequirePermission(authz.PermAssignRole)(http.HandlerFunc(h.ChangeRole))).Methods(http.MethodPut)
	r.Handle("/tenants/{tenantID:[0-9]+}/members/{principalID:[0-9]+}",
		g.RequirePermission(authz.PermRemoveMember)(http.HandlerFunc(h.Deactivate))).Methods(http.MethodDelete)
	r.Handle("/tenants/{tenantID:[0-9]+}/members/{principalID:[0-9]+}/reactivate",
		g.RequirePermission(authz.PermRemoveMember)(http.HandlerFunc(h.Reactivate))).Methods(http.MethodPost)
	r.Handle("/tenants/{tenantID:[0-9]+}/permissions",
		g.RequireMembership()(http.HandlerFunc(h.MyPermissions))).Methods(http.MethodGet)
}

// List returns a tenant's members
func (h *MemberHandlers) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	memberships, err := h.svc.List(r.Context(), tenantID, includeInactive)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, memberships)
}

// ChangeRole moves a member to a different role
func (h *MemberHandlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	principalID, err := httputil.PathInt64(r, "principalID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req members.ChangeRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	membership, err := h.svc.ChangeRole(r.Context(), actor, tenantID, principalID, req.NewRole)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, membership)
}

// Deactivate removes a member from active duty
func (h *MemberHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	principalID, err := httputil.PathInt64(r, "principalID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	if err := h.svc.Deactivate(r.Context(), actor, tenantID, principalID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteNoContent(w)
}

// Reactivate restores a deactivated membership
func (h *MemberHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	principalID, err := httputil.PathInt64(r, "principalID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	membership, err := h.svc.Reactivate(r.Context(), actor, tenantID, principalID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, membership)
}

// MyPermissions returns the caller's role, rank position and granted
// permissions within the tenant, for building UIs that hide what the
// caller cannot do.
func (h *MemberHandlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := gate.ActorFrom(r.Context())
	role := actor.EffectiveRole()

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":            role,
		"permissions":     h.engine.Permissions(role),
		"invitable_roles": h.engine.InvitableRoles(role),
	})
}
