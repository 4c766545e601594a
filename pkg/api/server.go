// Package api wires the HTTP surface: routing, middleware, and the
// per-resource handlers for tenants, members, invitations and the
// audit trail.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/httputil"
	"github.com/trusteekit/boardroom/pkg/invites"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
	"github.com/trusteekit/boardroom/pkg/tenants"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Services bundles everything the handlers need. Metrics may be nil.
type Services struct {
	Tenants tenants.Service
	Members members.Service
	Invites invites.Service
	Audit   audit.Recorder
	Engine  *authz.Engine
	Metrics *observability.Metrics
}

// Server is the public HTTP API.
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router with all routes and middleware attached
func NewServer(g *gate.Gate, svcs Services, logger *observability.Logger) *Server {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	)
	if svcs.Metrics != nil {
		api.Use(metricsMiddleware(svcs.Metrics))
	}

	// Token validation is the one route an anonymous token holder may
	// call; everything else requires an identity.
	public := api.PathPrefix("/invite").Subrouter()
	(&InviteHandlers{svc: svcs.Invites, logger: logger}).RegisterPublicRoutes(public)

	authed := api.NewRoute().Subrouter()
	authed.Use(g.Authenticate)

	(&TenantHandlers{svc: svcs.Tenants, logger: logger}).RegisterRoutes(authed, g)
	(&MemberHandlers{svc: svcs.Members, engine: svcs.Engine, logger: logger}).RegisterRoutes(authed, g)
	(&InviteHandlers{svc: svcs.Invites, logger: logger}).RegisterRoutes(authed, g)
	(&AuditHandlers{recorder: svcs.Audit, logger: logger}).RegisterRoutes(authed, g)

	return &Server{router: router, logger: logger}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// metricsMiddleware records request counts and latency labeled by the
// matched route template, so path parameters do not explode cardinality.
func metricsMiddleware(m *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}

// writeError sends a fault as its mapped status, and anything else as
// an opaque 500 after logging it.
func writeError(w http.ResponseWriter, logger *observability.Logger, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		gate.WriteFault(w, err)
		return
	}
	logger.WithError(err).Error("request failed")
	httputil.WriteInternalError(w)
}
