package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/invites"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
	"github.com/trusteekit/boardroom/pkg/tenants"
)

// fakeRoles maps principal IDs to roles for tenant 10
type fakeRoles map[int64]authz.Role

func (f fakeRoles) GetActiveRole(ctx context.Context, tenantID, principalID int64) (authz.Role, error) {
	role, ok := f[principalID]
	if !ok {
		return "", fault.New(fault.CodeNoMembership, "no membership in tenant")
	}
	return role, nil
}

type fakeTenants struct {
	tenants.Service
	created *tenants.Tenant
}

func (f *fakeTenants) Create(ctx context.Context, creatorPrincipalID int64, req tenants.CreateTenantRequest) (*tenants.Tenant, error) {
	f.created = &tenants.Tenant{ID: 10, Name: req.Name, Slug: req.Slug, CreatedAt: time.Now().UTC()}
	return f.created, nil
}

func (f *fakeTenants) GetByID(ctx context.Context, tenantID int64) (*tenants.Tenant, error) {
	return &tenants.Tenant{ID: tenantID, Name: "Harbor Relief Trust", Slug: "harbor-relief"}, nil
}

func (f *fakeTenants) ListForPrincipal(ctx context.Context, principalID int64) ([]*tenants.Tenant, error) {
	return []*tenants.Tenant{{ID: 10, Name: "Harbor Relief Trust", Slug: "harbor-relief"}}, nil
}

type fakeMembers struct {
	members.Service
	lastActor members.Actor
}

func (f *fakeMembers) List(ctx context.Context, tenantID int64, includeInactive bool) ([]*members.Membership, error) {
	return []*members.Membership{
		{ID: 1, TenantID: tenantID, PrincipalID: 1, Role: authz.RoleOwner, IsActive: true},
	}, nil
}

func (f *fakeMembers) ChangeRole(ctx context.Context, actor members.Actor, tenantID, principalID int64, newRole authz.Role) (*members.Membership, error) {
	f.lastActor = actor
	return &members.Membership{ID: 2, TenantID: tenantID, PrincipalID: principalID, Role: newRole, IsActive: true}, nil
}

type fakeInvites struct {
	invites.Service
}

func (f *fakeInvites) Issue(ctx context.Context, actor members.Actor, tenantID int64, req invites.IssueRequest) (*invites.Issued, error) {
	return &invites.Issued{
		Invitation: &invites.Invitation{ID: 5, TenantID: tenantID, Email: req.Email, Role: req.Role},
		Token:      "bdrm_inv_test-token",
	}, nil
}

func (f *fakeInvites) Validate(ctx context.Context, token string) (*invites.Preview, error) {
	if token != "bdrm_inv_test-token" {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}
	return &invites.Preview{TenantID: 10, TenantName: "Harbor Relief Trust", Email: "x@example.org", Role: authz.RoleTrustee}, nil
}

type fakeRecorder struct{}

func (fakeRecorder) Record(ctx context.Context, entry *audit.Entry) error { return nil }
func (fakeRecorder) RecordTx(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	return nil
}
func (fakeRecorder) Query(ctx context.Context, tenantID int64, filter audit.QueryFilter) ([]*audit.Entry, error) {
	return []*audit.Entry{{ID: 1, Action: audit.ActionMemberRoleChange}}, nil
}
func (fakeRecorder) ResourceHistory(ctx context.Context, resourceType audit.ResourceType, resourceID string) ([]*audit.Entry, error) {
	return nil, nil
}
func (fakeRecorder) Purge(ctx context.Context, policy audit.RetentionPolicy) (int64, error) {
	return 0, nil
}

func newTestServer(t *testing.T) (*Server, *fakeMembers) {
	t.Helper()

	logger := observability.NewNopLogger()
	engine := authz.NewEngine(authz.NewMatrix())
	roles := fakeRoles{1: authz.RoleOwner, 2: authz.RoleViewer}
	g := gate.New(gate.NewHeaderResolver(), roles, engine, nil, nil, logger)

	fm := &fakeMembers{}
	srv := NewServer(g, Services{
		Tenants: &fakeTenants{},
		Members: fm,
		Invites: &fakeInvites{},
		Audit:   fakeRecorder{},
		Engine:  engine,
	}, logger)

	return srv, fm
}

func doJSON(t *testing.T, srv *Server, method, path string, principalID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principalID != "" {
		req.Header.Set("X-Principal-ID", principalID)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRouting(t *testing.T) {
	srv, fm := newTestServer(t)

	t.Run("create tenant", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/tenants", "1",
			map[string]string{"name": "Harbor Relief Trust", "slug": "harbor-relief"})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("create tenant requires identity", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/tenants", "",
			map[string]string{"name": "X", "slug": "x"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("list own tenants", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/tenants", "2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []tenants.Tenant
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, "harbor-relief", list[0].Slug)
	})

	t.Run("list members as owner", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/tenants/10/members", "1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("viewer cannot change roles", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/api/v1/tenants/10/members/3/role", "2",
			map[string]string{"new_role": "trustee"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner changes a role and the actor carries through", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/api/v1/tenants/10/members/3/role", "1",
			map[string]string{"new_role": "secretary"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), fm.lastActor.PrincipalID)
		assert.Equal(t, authz.RoleOwner, fm.lastActor.Role)
	})

	t.Run("issue invitation as owner", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/tenants/10/invitations", "1",
			map[string]string{"email": "new@example.org", "role": "trustee"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		var issued invites.Issued
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
		assert.NotEmpty(t, issued.Token)
	})

	t.Run("validate invitation without identity", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/invite/validate?token=bdrm_inv_test-token", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid token collapses to not found", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/invite/validate?token=bdrm_inv_wrong", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("audit query requires PermViewAudit", func(t *testing.T) {
		recOwner := doJSON(t, srv, http.MethodGet, "/api/v1/tenants/10/audit", "1", nil)
		assert.Equal(t, http.StatusOK, recOwner.Code)

		recViewer := doJSON(t, srv, http.MethodGet, "/api/v1/tenants/10/audit", "2", nil)
		assert.Equal(t, http.StatusForbidden, recViewer.Code)
	})

	t.Run("permissions endpoint reflects caller role", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/tenants/10/permissions", "2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Role string `json:"role"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "viewer", body.Role)
	})
}
