package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// AuditHandlers serves the audit trail
type AuditHandlers struct {
	recorder audit.Recorder
	logger   *observability.Logger
}

// RegisterRoutes attaches audit routes to the authenticated subrouter
func (h *AuditHandlers) RegisterRoutes(r *mux.Router, g *gate.Gate) {
	r.Handle("/tenants/{tenantID:[0-9]+}/audit",
		g.RequirePermission(authz.PermViewAudit)(http.HandlerFunc(h.Query))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID:[0-9]+}/audit/resource/{resourceType}/{resourceID}",
		g.RequirePermission(authz.PermViewAudit)(http.HandlerFunc(h.ResourceHistory))).Methods(http.MethodGet)
}

// Query returns a tenant's audit entries, newest first
func (h *AuditHandlers) Query(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.PathInt64(r, "tenantID")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter, err := parseQueryFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.recorder.Query(r.Context(), tenantID, filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, entries)
}

// ResourceHistory returns every entry referencing one resource
func (h *AuditHandlers) ResourceHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resourceType := audit.ResourceType(vars["resourceType"])
	resourceID := vars["resourceID"]

	entries, err := h.recorder.ResourceHistory(r.Context(), resourceType, resourceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, entries)
}

func parseQueryFilter(r *http.Request) (audit.QueryFilter, error) {
	filter := audit.QueryFilter{
		Limit:  httputil.QueryInt(r, "limit", 0),
		Offset: httputil.QueryInt(r, "offset", 0),
	}

	if raw := r.URL.Query().Get("actions"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				filter.Actions = append(filter.Actions, audit.Action(a))
			}
		}
	}
	if raw := r.URL.Query().Get("resource_type"); raw != "" {
		filter.ResourceType = audit.ResourceType(raw)
	}
	if raw := r.URL.Query().Get("principal_id"); raw != "" {
		principalID := int64(httputil.QueryInt(r, "principal_id", 0))
		if principalID > 0 {
			filter.PrincipalID = &principalID
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.Since = &since
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.Until = &until
	}

	return filter, nil
}
