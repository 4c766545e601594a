package members

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// Service manages tenant memberships.
type Service interface {
	// Get returns the membership binding a principal to a tenant,
	// whether active or not.
	Get(ctx context.Context, tenantID, principalID int64) (*Membership, error)

	// List returns a tenant's memberships, active ones unless
	// includeInactive is set.
	List(ctx context.Context, tenantID int64, includeInactive bool) ([]*Membership, error)

	// ChangeRole moves a member to a different role. The transition is
	// authorized against the actor's role and serialized per membership
	// row, and the change is audited synchronously.
	ChangeRole(ctx context.Context, actor Actor, tenantID, principalID int64, newRole authz.Role) (*Membership, error)

	// Deactivate removes a member from active duty without deleting
	// the row. Audited synchronously.
	Deactivate(ctx context.Context, actor Actor, tenantID, principalID int64) error

	// Reactivate restores a previously deactivated membership.
	Reactivate(ctx context.Context, actor Actor, tenantID, principalID int64) (*Membership, error)
}

// PostgresService implements Service on PostgreSQL.
type PostgresService struct {
	db       *sql.DB
	engine   *authz.Engine
	recorder audit.Recorder
	cache    *RoleCache
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewPostgresService creates a membership service and ensures the
// memberships table exists. cache and metrics may be nil.
func NewPostgresService(db *sql.DB, engine *authz.Engine, recorder audit.Recorder, cache *RoleCache, metrics *observability.Metrics, logger *observability.Logger) (*PostgresService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("authorization engine is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}

	s := &PostgresService{
		db:       db,
		engine:   engine,
		recorder: recorder,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure memberships table: %w", err)
	}
	return s, nil
}

func (s *PostgresService) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS memberships (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		principal_id BIGINT NOT NULL,
		role VARCHAR(30) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(tenant_id, principal_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_tenant ON memberships(tenant_id) WHERE is_active;
	CREATE INDEX IF NOT EXISTS idx_memberships_principal ON memberships(principal_id);
	`

	_, err := s.db.Exec(query)
	return err
}

const membershipColumns = "id, tenant_id, principal_id, role, is_active, joined_at, updated_at"

// Get returns the membership for a principal within a tenant.
func (s *PostgresService) Get(ctx context.Context, tenantID, principalID int64) (*Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE tenant_id = $1 AND principal_id = $2`, membershipColumns)

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, tenantID, principalID))
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.CodeNoMembership, "no membership in tenant")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return m, nil
}

// GetActiveRole returns the role of an active member, consulting the
// cache first. It is the hot path behind every authorized request.
func (s *PostgresService) GetActiveRole(ctx context.Context, tenantID, principalID int64) (authz.Role, error) {
	if s.cache != nil {
		if role, active, ok := s.cache.Get(ctx, tenantID, principalID); ok {
			if s.metrics != nil {
				s.metrics.RoleCacheHitsTotal.Inc()
			}
			if !active {
				return "", fault.New(fault.CodeNoMembership, "membership is inactive")
			}
			return role, nil
		}
		if s.metrics != nil {
			s.metrics.RoleCacheMissesTotal.Inc()
		}
	}

	m, err := s.Get(ctx, tenantID, principalID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cache.Set(ctx, tenantID, principalID, m.Role, m.IsActive)
	}

	if !m.IsActive {
		return "", fault.New(fault.CodeNoMembership, "membership is inactive")
	}
	return m.Role, nil
}

// List returns a tenant's memberships ordered by join time.
func (s *PostgresService) List(ctx context.Context, tenantID int64, includeInactive bool) ([]*Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE tenant_id = $1`, membershipColumns)
	if !includeInactive {
		query += " AND is_active"
	}
	query += " ORDER BY joined_at ASC"

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]*Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// ChangeRole moves a member to a different role.
func (s *PostgresService) ChangeRole(ctx context.Context, actor Actor, tenantID, principalID int64, newRole authz.Role) (*Membership, error) {
	if actor.PrincipalID == principalID {
		return nil, fault.Forbidden("cannot change own role")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the row so concurrent role changes for the same member
	// serialize instead of clobbering each other.
	m, err := lockMembership(ctx, tx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, fault.New(fault.CodeNotFound, "membership is inactive")
	}

	decision := s.engine.CanTransitionRole(m.Role, newRole, actor.EffectiveRole())
	if !decision.Allowed {
		return nil, fault.Forbidden("%s", decision.Reason)
	}

	previousRole := m.Role
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE memberships SET role = $1, updated_at = $2 WHERE id = $3`,
		string(newRole), now, m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	// Synchronous audit: a role change that cannot be recorded does
	// not happen.
	if err := s.recorder.RecordTx(ctx, tx, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionMemberRoleChange,
		ResourceType: audit.ResourceMembership,
		ResourceID:   fmt.Sprintf("%d", m.ID),
		Details: map[string]interface{}{
			"target_principal_id": principalID,
			"previous_role":       string(previousRole),
			"new_role":            string(newRole),
		},
		RequestID: observability.GetRequestID(ctx),
	}); err != nil {
		return nil, fmt.Errorf("failed to record role change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role change: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, tenantID, principalID)
	}
	if s.metrics != nil {
		s.metrics.RoleChangesTotal.WithLabelValues(string(previousRole), string(newRole)).Inc()
	}

	m.Role = newRole
	m.UpdatedAt = now
	return m, nil
}

// Deactivate removes a member from active duty.
func (s *PostgresService) Deactivate(ctx context.Context, actor Actor, tenantID, principalID int64) error {
	if actor.PrincipalID == principalID {
		return fault.Forbidden("cannot remove own membership")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := lockMembership(ctx, tx, tenantID, principalID)
	if err != nil {
		return err
	}
	if !m.IsActive {
		return fault.New(fault.CodeNotFound, "membership is already inactive")
	}

	if !s.engine.CanManageRole(actor.EffectiveRole(), m.Role) {
		return fault.Forbidden("insufficient rank to remove this member")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE memberships SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		now, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}

	if err := s.recorder.RecordTx(ctx, tx, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionMemberDeactivate,
		ResourceType: audit.ResourceMembership,
		ResourceID:   fmt.Sprintf("%d", m.ID),
		Details: map[string]interface{}{
			"target_principal_id": principalID,
			"role":                string(m.Role),
		},
		RequestID: observability.GetRequestID(ctx),
	}); err != nil {
		return fmt.Errorf("failed to record deactivation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deactivation: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, tenantID, principalID)
	}

	return nil
}

// Reactivate restores a previously deactivated membership at its old role.
func (s *PostgresService) Reactivate(ctx context.Context, actor Actor, tenantID, principalID int64) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := lockMembership(ctx, tx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if m.IsActive {
		return nil, fault.New(fault.CodeConflict, "membership is already active")
	}

	if !s.engine.CanManageRole(actor.EffectiveRole(), m.Role) {
		return nil, fault.Forbidden("insufficient rank to reactivate this member")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE memberships SET is_active = TRUE, updated_at = $1 WHERE id = $2`,
		now, m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reactivation: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, tenantID, principalID)
	}

	audit.BestEffort(ctx, s.recorder, s.logger, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionMemberReactivate,
		ResourceType: audit.ResourceMembership,
		ResourceID:   fmt.Sprintf("%d", m.ID),
		Details: map[string]interface{}{
			"target_principal_id": principalID,
			"role":                string(m.Role),
		},
		RequestID: observability.GetRequestID(ctx),
	})

	m.IsActive = true
	m.UpdatedAt = now
	return m, nil
}

// CreateOrReactivateTx inserts a membership, or reactivates an inactive
// one at the given role, inside a caller-owned transaction. An existing
// active membership is a conflict.
//
// Invitation acceptance and tenant bootstrap both run inside larger
// transactions, so this operates on *sql.Tx rather than the service.
func CreateOrReactivateTx(ctx context.Context, tx *sql.Tx, tenantID, principalID int64, role authz.Role) (*Membership, error) {
	existing, err := lockMembership(ctx, tx, tenantID, principalID)
	if err != nil && !fault.IsCode(err, fault.CodeNoMembership) {
		return nil, err
	}

	now := time.Now().UTC()

	if existing != nil {
		if existing.IsActive {
			return nil, fault.New(fault.CodeAlreadyMember, "principal is already an active member")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE memberships SET role = $1, is_active = TRUE, updated_at = $2 WHERE id = $3`,
			string(role), now, existing.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to reactivate membership: %w", err)
		}
		existing.Role = role
		existing.IsActive = true
		existing.UpdatedAt = now
		return existing, nil
	}

	m := &Membership{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Role:        role,
		IsActive:    true,
		JoinedAt:    now,
		UpdatedAt:   now,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO memberships (tenant_id, principal_id, role, is_active, joined_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, $4, $5)
		 RETURNING id`,
		tenantID, principalID, string(role), now, now,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	return m, nil
}

func lockMembership(ctx context.Context, tx *sql.Tx, tenantID, principalID int64) (*Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE tenant_id = $1 AND principal_id = $2 FOR UPDATE`, membershipColumns)

	m, err := scanMembership(tx.QueryRowContext(ctx, query, tenantID, principalID))
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.CodeNoMembership, "no membership in tenant")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*Membership, error) {
	m := &Membership{}
	var role string
	if err := row.Scan(&m.ID, &m.TenantID, &m.PrincipalID, &role, &m.IsActive, &m.JoinedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = authz.Role(role)
	return m, nil
}
