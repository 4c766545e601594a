package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/invites"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// InviteHandlers serves invitation endpoints
type InviteHandlers struct {
	svc    invites.Service
	logger *observability.Logger
}

// RegisterPublicRoutes attaches the one unauthenticated route: token
// validation for rendering the accept page.
func (h *InviteHandlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/validate", h.Validate).Methods(http.MethodGet)
}

// RegisterRoutes attaches invitation routes to the authenticated subrouter
func (h *InviteHandlers) RegisterRoutes(r *mux.Router, g *gate.Gate) {
	r.Handle("/tenants/{tenantID:[0-9]+}/invitations",
		g.RequirePermission(authz.PermInviteMember)(http.HandlerFunc(h.Issue))).Methods(http.MethodPost)
	r.Handle("/tenants/{tenantID:[0-9]+}/invitations",
		g.RequirePermission(authz.PermViewMembers)(http.HandlerFunc(h.List))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID:[0-9]+}/invitations/{invitationID:[0-9]+}",
		g.RequirePermission(authz.PermInviteMember)(http.HandlerFunc(h.Cancel))).Methods(http.MethodDelete)
	r.Handle("/tenants/{tenantID:[0-9]+}/invitations/{invitationID:[0-9]+}/resend",
		g.RequirePermission(authz.PermInviteMember)(http.HandlerFunc(h.Resend))).Methods(http.MethodPost)

	// Accepting needs an identity but no membership: the caller is
	// joining the tenant, not yet in it.
	r.HandleFunc("/invitations/accept", h.Accept).Methods(http.MethodPost)
}

// Issue creates an invitation and returns the plaintext token once
func (h *InviteHandlers) Issue(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req invites.IssueRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	issued, err := h.svc.Issue(r.Context(), actor, tenantID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteCreated(w, issued)
}

// List returns a tenant's invitations
func (h *InviteHandlers) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	invitations, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, invitations)
}

// Validate previews an invitation for an anonymous token holder
func (h *InviteHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteBadRequest(w, "token query parameter is required")
		return
	}

	preview, err := h.svc.Validate(r.Context(), token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, preview)
}

type acceptRequest struct {
	Token string `json:"token"`
}

// Accept redeems a token for the authenticated caller
func (h *InviteHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	identity, ok := gate.IdentityFrom(r.Context())
	if !ok {
		gate.WriteFault(w, fault.Unauthenticated("authentication required"))
		return
	}

	var req acceptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	membership, err := h.svc.Accept(r.Context(), req.Token, identity.PrincipalID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteCreated(w, membership)
}

// Cancel withdraws a pending invitation
func (h *InviteHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	invitationID, err := httputil.PathInt64(r, "invitationID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	if err := h.svc.Cancel(r.Context(), actor, tenantID, invitationID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteNoContent(w)
}

// Resend rotates an invitation's token and extends its window
func (h *InviteHandlers) Resend(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	invitationID, err := httputil.PathInt64(r, "invitationID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor, _ := gate.ActorFrom(r.Context())
	issued, err := h.svc.Resend(r.Context(), actor, tenantID, invitationID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, issued)
}
