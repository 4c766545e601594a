package members

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/observability"
)

func newTestService(t *testing.T, cache *RoleCache) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	recorder, err := audit.NewDBRecorder(db)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memberships").WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewPostgresService(db, authz.NewEngine(authz.NewMatrix()), recorder, cache, nil, observability.NewNopLogger())
	require.NoError(t, err)

	return svc, mock, db
}

func membershipRows(id, tenantID, principalID int64, role authz.Role, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "role", "is_active", "joined_at", "updated_at"}).
		AddRow(id, tenantID, principalID, string(role), active, now, now)
}

func TestChangeRole(t *testing.T) {
	admin := Actor{PrincipalID: 1, Role: authz.RoleAdmin}

	t.Run("success records audit entry in transaction", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM memberships WHERE tenant_id = \\$1 AND principal_id = \\$2 FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleTrustee, true))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE memberships SET role = $1, updated_at = $2 WHERE id = $3")).
			WithArgs("secretary", sqlmock.AnyArg(), int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		m, err := svc.ChangeRole(context.Background(), admin, 10, 2, authz.RoleSecretary)
		require.NoError(t, err)
		assert.Equal(t, authz.RoleSecretary, m.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed audit write rolls back the change", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleTrustee, true))
		mock.ExpectExec("UPDATE memberships SET role").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit_entries").
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := svc.ChangeRole(context.Background(), admin, 10, 2, authz.RoleSecretary)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self role change is forbidden", func(t *testing.T) {
		svc, _, db := newTestService(t, nil)
		defer db.Close()

		_, err := svc.ChangeRole(context.Background(), admin, 10, admin.PrincipalID, authz.RoleViewer)
		assert.True(t, fault.IsCode(err, fault.CodeForbidden))
	})

	t.Run("insufficient rank is forbidden", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		trustee := Actor{PrincipalID: 3, Role: authz.RoleTrustee}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleViewer, true))
		mock.ExpectRollback()

		_, err := svc.ChangeRole(context.Background(), trustee, 10, 2, authz.RoleAdmin)
		assert.True(t, fault.IsCode(err, fault.CodeForbidden))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deny reason reaches the caller verbatim", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		// A percent sign in the role name must not be reinterpreted as
		// a formatting verb on the way out.
		outsider := Actor{PrincipalID: 3, Role: authz.Role("ops%lead")}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleTrustee, true))
		mock.ExpectRollback()

		_, err := svc.ChangeRole(context.Background(), outsider, 10, 2, authz.RoleViewer)
		assert.True(t, fault.IsCode(err, fault.CodeForbidden))
		assert.Contains(t, err.Error(), `role "ops%lead" cannot manage a member holding role "trustee"`)
	})

	t.Run("unknown member", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(99)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.ChangeRole(context.Background(), admin, 10, 99, authz.RoleViewer)
		assert.True(t, fault.IsCode(err, fault.CodeNoMembership))
	})
}

func TestDeactivate(t *testing.T) {
	owner := Actor{PrincipalID: 1, Role: authz.RoleOwner}

	t.Run("success", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleTrustee, true))
		mock.ExpectExec("UPDATE memberships SET is_active = FALSE").
			WithArgs(sqlmock.AnyArg(), int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		err := svc.Deactivate(context.Background(), owner, 10, 2)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self removal forbidden", func(t *testing.T) {
		svc, _, db := newTestService(t, nil)
		defer db.Close()

		err := svc.Deactivate(context.Background(), owner, 10, owner.PrincipalID)
		assert.True(t, fault.IsCode(err, fault.CodeForbidden))
	})

	t.Run("cannot deactivate an equal or higher rank", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		admin := Actor{PrincipalID: 3, Role: authz.RoleAdmin}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleAdmin, true))
		mock.ExpectRollback()

		err := svc.Deactivate(context.Background(), admin, 10, 2)
		assert.True(t, fault.IsCode(err, fault.CodeForbidden))
	})

	t.Run("already inactive", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleTrustee, false))
		mock.ExpectRollback()

		err := svc.Deactivate(context.Background(), owner, 10, 2)
		assert.True(t, fault.IsCode(err, fault.CodeNotFound))
	})
}

func TestReactivate(t *testing.T) {
	owner := Actor{PrincipalID: 1, Role: authz.RoleOwner}

	t.Run("restores old role", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleSecretary, false))
		mock.ExpectExec("UPDATE memberships SET is_active = TRUE").
			WithArgs(sqlmock.AnyArg(), int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("INSERT INTO audit_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		m, err := svc.Reactivate(context.Background(), owner, 10, 2)
		require.NoError(t, err)
		assert.True(t, m.IsActive)
		assert.Equal(t, authz.RoleSecretary, m.Role)
	})

	t.Run("already active", func(t *testing.T) {
		svc, mock, db := newTestService(t, nil)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleSecretary, true))
		mock.ExpectRollback()

		_, err := svc.Reactivate(context.Background(), owner, 10, 2)
		assert.True(t, fault.IsCode(err, fault.CodeConflict))
	})
}

func TestGetActiveRole(t *testing.T) {
	newCache := func(t *testing.T) (*RoleCache, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return NewRoleCache(client, time.Minute, observability.NewNopLogger()), mr
	}

	t.Run("cache miss populates cache", func(t *testing.T) {
		cache, mr := newCache(t)
		svc, mock, db := newTestService(t, cache)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM memberships WHERE tenant_id = \\$1 AND principal_id = \\$2").
			WithArgs(int64(10), int64(2)).
			WillReturnRows(membershipRows(100, 10, 2, authz.RoleChair, true))

		role, err := svc.GetActiveRole(context.Background(), 10, 2)
		require.NoError(t, err)
		assert.Equal(t, authz.RoleChair, role)

		assert.True(t, mr.Exists("boardroom:membership:10:2"))
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		cache, _ := newCache(t)
		svc, _, db := newTestService(t, cache)
		defer db.Close()

		cache.Set(context.Background(), 10, 2, authz.RoleTreasurer, true)

		role, err := svc.GetActiveRole(context.Background(), 10, 2)
		require.NoError(t, err)
		assert.Equal(t, authz.RoleTreasurer, role)
	})

	t.Run("cached inactive membership is refused", func(t *testing.T) {
		cache, _ := newCache(t)
		svc, _, db := newTestService(t, cache)
		defer db.Close()

		cache.Set(context.Background(), 10, 2, authz.RoleTreasurer, false)

		_, err := svc.GetActiveRole(context.Background(), 10, 2)
		assert.True(t, fault.IsCode(err, fault.CodeNoMembership))
	})

	t.Run("invalidation drops the entry", func(t *testing.T) {
		cache, mr := newCache(t)

		cache.Set(context.Background(), 10, 2, authz.RoleTreasurer, true)
		require.True(t, mr.Exists("boardroom:membership:10:2"))

		cache.Invalidate(context.Background(), 10, 2)
		assert.False(t, mr.Exists("boardroom:membership:10:2"))
	})
}

func TestCreateOrReactivateTx(t *testing.T) {
	t.Run("new membership", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(5)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO memberships").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		tx, err := db.Begin()
		require.NoError(t, err)

		m, err := CreateOrReactivateTx(context.Background(), tx, 10, 5, authz.RoleTrustee)
		require.NoError(t, err)
		assert.Equal(t, int64(7), m.ID)
		assert.True(t, m.IsActive)
	})

	t.Run("active membership conflicts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(5)).
			WillReturnRows(membershipRows(7, 10, 5, authz.RoleTrustee, true))

		tx, err := db.Begin()
		require.NoError(t, err)

		_, err = CreateOrReactivateTx(context.Background(), tx, 10, 5, authz.RoleTrustee)
		assert.True(t, fault.IsCode(err, fault.CodeAlreadyMember))
	})

	t.Run("inactive membership reactivates at invited role", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(int64(10), int64(5)).
			WillReturnRows(membershipRows(7, 10, 5, authz.RoleViewer, false))
		mock.ExpectExec("UPDATE memberships SET role").
			WithArgs("secretary", sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Begin()
		require.NoError(t, err)

		m, err := CreateOrReactivateTx(context.Background(), tx, 10, 5, authz.RoleSecretary)
		require.NoError(t, err)
		assert.True(t, m.IsActive)
		assert.Equal(t, authz.RoleSecretary, m.Role)
	})
}

func TestList(t *testing.T) {
	svc, mock, db := newTestService(t, nil)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "role", "is_active", "joined_at", "updated_at"}).
		AddRow(1, 10, 1, "owner", true, now, now).
		AddRow(2, 10, 2, "trustee", true, now, now)

	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE tenant_id = \\$1 AND is_active ORDER BY joined_at ASC").
		WithArgs(int64(10)).
		WillReturnRows(rows)

	memberships, err := svc.List(context.Background(), 10, false)
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, authz.RoleOwner, memberships[0].Role)
	assert.Equal(t, authz.RoleTrustee, memberships[1].Role)
}
