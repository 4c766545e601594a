package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/observability"
	"github.com/trusteekit/boardroom/pkg/tenants"
)

// TenantHandlers serves tenant and principal endpoints
type TenantHandlers struct {
	svc    tenants.Service
	logger *observability.Logger
}

// RegisterRoutes attaches tenant routes to the authenticated subrouter
func (h *TenantHandlers) RegisterRoutes(r *mux.Router, g *gate.Gate) {
	r.HandleFunc("/tenants", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/tenants", h.List).Methods(http.MethodGet)
	r.HandleFunc("/principals", h.RegisterPrincipal).Methods(http.MethodPost)

	r.Handle("/tenants/{tenantID:[0-9]+}",
		g.RequireMembership()(http.HandlerFunc(h.Get))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID:[0-9]+}",
		g.RequirePermission(authz.PermDeleteTenant)(http.HandlerFunc(h.Delete))).Methods(http.MethodDelete)
}

// Create provisions a tenant; the caller becomes its Owner
func (h *TenantHandlers) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := gate.IdentityFrom(r.Context())
	if !ok {
		gate.WriteFault(w, fault.Unauthenticated("authentication required"))
		return
	}

	var req tenants.CreateTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	tenant, err := h.svc.Create(r.Context(), identity.PrincipalID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteCreated(w, tenant)
}

// List returns the caller's tenants. Platform operators see all of them.
func (h *TenantHandlers) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := gate.IdentityFrom(r.Context())
	if !ok {
		gate.WriteFault(w, fault.Unauthenticated("authentication required"))
		return
	}

	var (
		tenantList []*tenants.Tenant
		err        error
	)
	if identity.IsSuperAdmin {
		tenantList, err = h.svc.List(r.Context())
	} else {
		tenantList, err = h.svc.ListForPrincipal(r.Context(), identity.PrincipalID)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, tenantList)
}

// Get returns one tenant; any active member may call it
func (h *TenantHandlers) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	tenant, err := h.svc.GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

// Delete soft-deletes a tenant
func (h *TenantHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	if err := h.svc.SoftDelete(r.Context(), actor, tenantID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteNoContent(w)
}

type registerPrincipalRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// RegisterPrincipal maps an email to a stable principal ID
func (h *TenantHandlers) RegisterPrincipal(w http.ResponseWriter, r *http.Request) {
	var req registerPrincipalRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	principal, err := h.svc.RegisterPrincipal(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteCreated(w, principal)
}
