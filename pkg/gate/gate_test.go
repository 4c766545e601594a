package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/observability"
)

type staticRoles struct {
	roles map[int64]authz.Role
}

func (s staticRoles) GetActiveRole(ctx context.Context, tenantID, principalID int64) (authz.Role, error) {
	role, ok := s.roles[principalID]
	if !ok {
		return "", fault.New(fault.CodeNoMembership, "no membership in tenant")
	}
	return role, nil
}

func newTestGate(roles map[int64]authz.Role) *Gate {
	return New(
		NewHeaderResolver(),
		staticRoles{roles: roles},
		authz.NewEngine(authz.NewMatrix()),
		nil,
		nil,
		observability.NewNopLogger(),
	)
}

func serve(g *Gate, perm authz.Permission, req *http.Request) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"role": string(actor.EffectiveRole())})
	})
	router.Handle("/tenants/{tenantID}/resource",
		g.RequirePermission(perm)(handler))

	rec := httptest.NewRecorder()
	g.Authenticate(router).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestGateOutcomes(t *testing.T) {
	g := newTestGate(map[int64]authz.Role{
		1: authz.RoleOwner,
		2: authz.RoleViewer,
	})

	t.Run("missing identity is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)

		rec := serve(g, authz.PermViewMembers, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(fault.CodeUnauthenticated), decodeError(t, rec))
	})

	t.Run("identity without membership is NO_MEMBERSHIP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)
		req.Header.Set("X-Principal-ID", "99")

		rec := serve(g, authz.PermViewMembers, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(fault.CodeNoMembership), decodeError(t, rec))
	})

	t.Run("membership without permission is FORBIDDEN", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)
		req.Header.Set("X-Principal-ID", "2")

		rec := serve(g, authz.PermInviteMember, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(fault.CodeForbidden), decodeError(t, rec))
	})

	t.Run("member with permission passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)
		req.Header.Set("X-Principal-ID", "1")

		rec := serve(g, authz.PermInviteMember, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("superadmin bypasses membership entirely", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)
		req.Header.Set("X-Principal-ID", "777")
		req.Header.Set("X-Super-Admin", "true")

		rec := serve(g, authz.PermDeleteTenant, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Role string `json:"role"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(authz.RoleSuperAdmin), body.Role)
	})

	t.Run("malformed principal header is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/10/resource", nil)
		req.Header.Set("X-Principal-ID", "not-a-number")

		rec := serve(g, authz.PermViewMembers, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestWriteFault(t *testing.T) {
	cases := []struct {
		code   fault.Code
		status int
	}{
		{fault.CodeUnauthenticated, http.StatusUnauthorized},
		{fault.CodeNoMembership, http.StatusForbidden},
		{fault.CodeForbidden, http.StatusForbidden},
		{fault.CodeNotFound, http.StatusNotFound},
		{fault.CodeInvalidInvitation, http.StatusNotFound},
		{fault.CodeAlreadyMember, http.StatusConflict},
		{fault.CodeInvitationPending, http.StatusConflict},
		{fault.CodeAlreadyAccepted, http.StatusConflict},
		{fault.CodeConflict, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteFault(rec, fault.New(tc.code, "boom"))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, string(tc.code), decodeError(t, rec))
		})
	}

	t.Run("non-fault errors become opaque 500s", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteFault(rec, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
