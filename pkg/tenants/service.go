// Package tenants provides the tenant directory and the principal
// registry. Creating a tenant makes its creator the Owner in the same
// transaction, so no tenant ever exists without an active Owner.
package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// pqUniqueViolation is the PostgreSQL error code for unique_violation
const pqUniqueViolation = "23505"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Service manages tenants and principals.
type Service interface {
	// Create provisions a tenant and installs the creator as Owner in
	// one transaction. Slug collisions surface as Conflict.
	Create(ctx context.Context, creatorPrincipalID int64, req CreateTenantRequest) (*Tenant, error)

	GetByID(ctx context.Context, tenantID int64) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)

	// ListForPrincipal returns the live tenants where the principal
	// holds an active membership.
	ListForPrincipal(ctx context.Context, principalID int64) ([]*Tenant, error)

	// SoftDelete marks a tenant deleted. Memberships and audit rows
	// survive; the tenant simply stops resolving.
	SoftDelete(ctx context.Context, actor members.Actor, tenantID int64) error

	// TenantName resolves a display name for previews and notifications
	TenantName(ctx context.Context, tenantID int64) (string, error)

	// RegisterPrincipal maps an email to a stable principal ID,
	// creating the record on first sight.
	RegisterPrincipal(ctx context.Context, email, displayName string) (*Principal, error)

	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
}

// PostgresService implements Service on PostgreSQL.
type PostgresService struct {
	db       *sql.DB
	recorder audit.Recorder
	logger   *observability.Logger
}

// NewPostgresService creates a tenant service and ensures its tables exist
func NewPostgresService(db *sql.DB, recorder audit.Recorder, logger *observability.Logger) (*PostgresService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}

	s := &PostgresService{db: db, recorder: recorder, logger: logger}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant tables: %w", err)
	}
	return s, nil
}

func (s *PostgresService) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(100) NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS principals (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Create provisions a tenant with its creator as Owner.
func (s *PostgresService) Create(ctx context.Context, creatorPrincipalID int64, req CreateTenantRequest) (*Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fault.New(fault.CodeConflict, "tenant name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fault.New(fault.CodeConflict, "slug must be lowercase letters, digits and hyphens")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	tenant := &Tenant{Name: name, Slug: slug, CreatedAt: now}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO tenants (name, slug, created_at) VALUES ($1, $2, $3) RETURNING id`,
		tenant.Name, tenant.Slug, tenant.CreatedAt,
	).Scan(&tenant.ID)
	if err != nil {
		// Slug uniqueness is enforced by the database, not a racy
		// pre-check.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return nil, fault.New(fault.CodeConflict, "slug %q is already taken", slug)
		}
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}

	if _, err := members.CreateOrReactivateTx(ctx, tx, tenant.ID, creatorPrincipalID, authz.RoleOwner); err != nil {
		return nil, fmt.Errorf("failed to install owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant creation: %w", err)
	}

	audit.BestEffort(ctx, s.recorder, s.logger, &audit.Entry{
		TenantID:     &tenant.ID,
		PrincipalID:  &creatorPrincipalID,
		Action:       audit.ActionTenantCreate,
		ResourceType: audit.ResourceTenant,
		ResourceID:   fmt.Sprintf("%d", tenant.ID),
		Details:      map[string]interface{}{"name": tenant.Name, "slug": tenant.Slug},
		RequestID:    observability.GetRequestID(ctx),
	})

	return tenant, nil
}

// GetByID returns a live tenant by ID.
func (s *PostgresService) GetByID(ctx context.Context, tenantID int64) (*Tenant, error) {
	return s.getTenant(ctx,
		`SELECT id, name, slug, created_at, deleted_at FROM tenants WHERE id = $1 AND deleted_at IS NULL`,
		tenantID)
}

// GetBySlug returns a live tenant by slug.
func (s *PostgresService) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.getTenant(ctx,
		`SELECT id, name, slug, created_at, deleted_at FROM tenants WHERE slug = $1 AND deleted_at IS NULL`,
		slug)
}

func (s *PostgresService) getTenant(ctx context.Context, query string, arg interface{}) (*Tenant, error) {
	t := &Tenant{}
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return t, nil
}

// List returns all live tenants.
func (s *PostgresService) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, created_at, deleted_at FROM tenants WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenantList := make([]*Tenant, 0)
	for rows.Next() {
		t := &Tenant{}
		var deletedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenantList = append(tenantList, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenantList, nil
}

// ListForPrincipal returns live tenants with an active membership for
// the principal.
func (s *PostgresService) ListForPrincipal(ctx context.Context, principalID int64) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.created_at, t.deleted_at
		FROM tenants t
		JOIN memberships m ON m.tenant_id = t.id
		WHERE m.principal_id = $1 AND m.is_active AND t.deleted_at IS NULL
		ORDER BY t.created_at ASC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants for principal: %w", err)
	}
	defer rows.Close()

	tenantList := make([]*Tenant, 0)
	for rows.Next() {
		t := &Tenant{}
		var deletedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenantList = append(tenantList, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenantList, nil
}

// SoftDelete marks a tenant deleted.
func (s *PostgresService) SoftDelete(ctx context.Context, actor members.Actor, tenantID int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		now, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fault.NotFound("tenant not found")
	}

	audit.BestEffort(ctx, s.recorder, s.logger, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionTenantDelete,
		ResourceType: audit.ResourceTenant,
		ResourceID:   fmt.Sprintf("%d", tenantID),
		RequestID:    observability.GetRequestID(ctx),
	})

	return nil
}

// TenantName resolves a tenant's display name.
func (s *PostgresService) TenantName(ctx context.Context, tenantID int64) (string, error) {
	t, err := s.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// RegisterPrincipal maps an email to a principal, creating it on first
// sight. The upsert keeps the original row on conflict so IDs are
// stable across repeated registrations.
func (s *PostgresService) RegisterPrincipal(ctx context.Context, email, displayName string) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fault.New(fault.CodeConflict, "a valid email is required")
	}

	p := &Principal{Email: email, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO principals (email, display_name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, created_at`,
		p.Email, p.DisplayName, p.CreatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register principal: %w", err)
	}

	return p, nil
}

// GetPrincipalByEmail looks up a principal by email.
func (s *PostgresService) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	p := &Principal{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM principals WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&p.ID, &p.Email, &p.DisplayName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("principal not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}
