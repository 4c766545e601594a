package gate

import (
	"net/http"
	"strconv"

	"github.com/trusteekit/boardroom/pkg/fault"
)

// Identity is the authenticated caller as established upstream of this
// service. IsSuperAdmin marks platform operators who bypass tenant
// authorization entirely.
type Identity struct {
	PrincipalID  int64
	IsSuperAdmin bool
}

// Resolver establishes the caller's identity from a request.
// Authentication itself (sessions, OIDC, SAML) happens upstream; the
// gate only consumes its result.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// HeaderResolver trusts identity headers set by an authenticating
// reverse proxy. Only deploy behind a proxy that strips these headers
// from client traffic.
type HeaderResolver struct{}

// NewHeaderResolver creates a header-based resolver
func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{}
}

// Resolve reads X-Principal-ID and X-Super-Admin
func (hr *HeaderResolver) Resolve(r *http.Request) (*Identity, error) {
	raw := r.Header.Get("X-Principal-ID")
	if raw == "" {
		return nil, fault.Unauthenticated("missing identity")
	}

	principalID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || principalID <= 0 {
		return nil, fault.Unauthenticated("malformed identity")
	}

	return &Identity{
		PrincipalID:  principalID,
		IsSuperAdmin: r.Header.Get("X-Super-Admin") == "true",
	}, nil
}
