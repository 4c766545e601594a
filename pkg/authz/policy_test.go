package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	t.Run("valid overlay", func(t *testing.T) {
		path := writePolicyFile(t, `
version: 1
grants:
  treasurer:
    - billing:manage
  secretary:
    - meeting:manage
`)
		policy, err := LoadPolicyFile(path)
		require.NoError(t, err)

		matrix, err := NewMatrixWithPolicy(policy)
		require.NoError(t, err)
		engine := NewEngine(matrix)

		assert.True(t, engine.HasPermission(RoleTreasurer, PermManageBilling))
		assert.True(t, engine.HasPermission(RoleSecretary, PermManageMeetings))
		// Defaults are untouched.
		assert.True(t, engine.HasPermission(RoleTreasurer, PermManageFinances))
		assert.False(t, engine.HasPermission(RoleViewer, PermManageBilling))
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		path := writePolicyFile(t, `
version: 1
grants:
  ceo:
    - billing:manage
`)
		_, err := LoadPolicyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown role")
	})

	t.Run("unknown permission rejected", func(t *testing.T) {
		path := writePolicyFile(t, `
version: 1
grants:
  admin:
    - universe:manage
`)
		_, err := LoadPolicyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown permission")
	})

	t.Run("superadmin grants rejected", func(t *testing.T) {
		path := writePolicyFile(t, `
version: 1
grants:
  superadmin:
    - billing:manage
`)
		_, err := LoadPolicyFile(path)
		require.Error(t, err)
	})

	t.Run("unsupported version rejected", func(t *testing.T) {
		path := writePolicyFile(t, `
version: 2
grants: {}
`)
		_, err := LoadPolicyFile(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestNewMatrixWithPolicyNil(t *testing.T) {
	matrix, err := NewMatrixWithPolicy(nil)
	require.NoError(t, err)
	engine := NewEngine(matrix)
	assert.True(t, engine.HasPermission(RoleOwner, PermDeleteTenant))
}

func TestMatrixTotality(t *testing.T) {
	matrix := NewMatrix()
	for _, r := range TenantRoles() {
		assert.NotNil(t, matrix.Permissions(r), "role %s missing from matrix", r)
	}
}
