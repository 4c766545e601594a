package authz

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is an optional operator-supplied overlay that extends the
// default permission matrix at process start. Grants can only be added,
// never removed, and the file is read exactly once before the matrix is
// published; there is no runtime mutation path.
type PolicyFile struct {
	Version int                 `yaml:"version"`
	Grants  map[string][]string `yaml:"grants"`
}

// LoadPolicyFile parses and validates a policy file from disk.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}

	return &policy, nil
}

// Validate checks that every role and permission named in the file is
// known. Unknown names are hard errors rather than silent no-ops so a
// typo cannot quietly weaken or miss a grant.
func (p *PolicyFile) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version %d", p.Version)
	}

	for roleName, perms := range p.Grants {
		role, err := ParseRole(roleName)
		if err != nil {
			return err
		}
		if role == RoleSuperAdmin {
			return fmt.Errorf("role %q cannot appear in the policy file", RoleSuperAdmin)
		}
		for _, permName := range perms {
			if !Permission(permName).IsValid() {
				return fmt.Errorf("unknown permission %q for role %q", permName, roleName)
			}
		}
	}

	return nil
}

// NewMatrixWithPolicy builds the default matrix and applies the policy
// overlay on top of it. A nil policy yields the default matrix.
func NewMatrixWithPolicy(policy *PolicyFile) (*Matrix, error) {
	m := NewMatrix()
	if policy == nil {
		return m, nil
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	for roleName, perms := range policy.Grants {
		role, _ := ParseRole(roleName)
		for _, permName := range perms {
			m.grant(role, Permission(permName))
		}
	}

	return m, nil
}
