package invites

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trusteekit/boardroom/pkg/async"
	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/fault"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// TenantDirectory resolves tenant display names for previews and
// notifications.
type TenantDirectory interface {
	TenantName(ctx context.Context, tenantID int64) (string, error)
}

// Service manages the invitation lifecycle.
type Service interface {
	// Issue creates an invitation and returns the plaintext token
	// exactly once. Audited synchronously.
	Issue(ctx context.Context, actor members.Actor, tenantID int64, req IssueRequest) (*Issued, error)

	// Validate looks up a pending, unexpired invitation by token and
	// returns a redacted preview. Miss, expiry and terminal states all
	// collapse into the same error so callers cannot probe which
	// applied.
	Validate(ctx context.Context, token string) (*Preview, error)

	// Accept redeems a token for the given principal, creating or
	// reactivating the membership atomically with the state
	// transition. The loser of a double-submission race observes
	// AlreadyAccepted. Audited synchronously.
	Accept(ctx context.Context, token string, principalID int64) (*members.Membership, error)

	// Cancel marks a pending invitation cancelled. Allowed for the
	// issuer, or anyone who can manage the invited role.
	Cancel(ctx context.Context, actor members.Actor, tenantID, invitationID int64) error

	// Resend rotates the token and extends the expiry window. The
	// previously issued plaintext stops working even if never
	// delivered. Same authorization as Cancel.
	Resend(ctx context.Context, actor members.Actor, tenantID, invitationID int64) (*Issued, error)

	// List returns a tenant's invitations, newest first.
	List(ctx context.Context, tenantID int64) ([]*Invitation, error)

	// DeleteExpired removes invitations whose window has passed
	// without reaching a terminal state. Run by the janitor.
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostgresService implements Service on PostgreSQL.
type PostgresService struct {
	db            *sql.DB
	engine        *authz.Engine
	recorder      audit.Recorder
	notifier      Notifier
	tenants       TenantDirectory
	ttl           time.Duration
	acceptBaseURL string
	metrics       *observability.Metrics
	logger        *observability.Logger
}

// Options configures a PostgresService
type Options struct {
	TTL           time.Duration
	AcceptBaseURL string
	Metrics       *observability.Metrics
}

// NewPostgresService creates an invitation service and ensures the
// invitations table exists.
func NewPostgresService(db *sql.DB, engine *authz.Engine, recorder audit.Recorder, notifier Notifier, tenants TenantDirectory, logger *observability.Logger, opts Options) (*PostgresService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("authorization engine is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}

	s := &PostgresService{
		db:            db,
		engine:        engine,
		recorder:      recorder,
		notifier:      notifier,
		tenants:       tenants,
		ttl:           opts.TTL,
		acceptBaseURL: opts.AcceptBaseURL,
		metrics:       opts.Metrics,
		logger:        logger,
	}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure invitations table: %w", err)
	}
	return s, nil
}

func (s *PostgresService) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS invitations (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		email VARCHAR(255) NOT NULL,
		role VARCHAR(30) NOT NULL,
		token_hash CHAR(64) NOT NULL UNIQUE,
		token_prefix VARCHAR(20) NOT NULL,
		invited_by BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		accepted_at TIMESTAMP WITH TIME ZONE,
		accepted_by BIGINT,
		cancelled_at TIMESTAMP WITH TIME ZONE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_pending ON invitations(tenant_id, email) WHERE accepted_at IS NULL AND cancelled_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_invitations_expires ON invitations(expires_at) WHERE accepted_at IS NULL AND cancelled_at IS NULL;
	`

	_, err := s.db.Exec(query)
	return err
}

const invitationColumns = "id, tenant_id, email, role, token_hash, token_prefix, invited_by, created_at, expires_at, accepted_at, accepted_by, cancelled_at"

// notifyTimeout bounds background delivery attempts.
const notifyTimeout = 10 * time.Second

// pqUniqueViolation is the PostgreSQL error code for unique_violation
const pqUniqueViolation = "23505"

// Issue creates an invitation.
func (s *PostgresService) Issue(ctx context.Context, actor members.Actor, tenantID int64, req IssueRequest) (*Issued, error) {
	if req.Email == "" {
		return nil, fault.New(fault.CodeConflict, "email is required")
	}
	if !req.Role.IsValid() || req.Role == authz.RoleSuperAdmin {
		return nil, fault.Forbidden("cannot invite to role %q", req.Role)
	}
	if !s.engine.CanInviteRole(actor.EffectiveRole(), req.Role) {
		return nil, fault.Forbidden("role %q is above your invitation ceiling", req.Role)
	}

	var isActiveMember bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships m
			JOIN principals p ON p.id = m.principal_id
			WHERE m.tenant_id = $1 AND p.email = $2 AND m.is_active
		)`, tenantID, req.Email).Scan(&isActiveMember)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing membership: %w", err)
	}
	if isActiveMember {
		return nil, fault.New(fault.CodeAlreadyMember, "an active member already exists for this email")
	}

	var hasPending bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM invitations
			WHERE tenant_id = $1 AND email = $2
			  AND accepted_at IS NULL AND cancelled_at IS NULL AND expires_at > $3
		)`, tenantID, req.Email, time.Now().UTC()).Scan(&hasPending)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	if hasPending {
		return nil, fault.New(fault.CodeInvitationPending, "an invitation for this email is already pending")
	}

	token, tokenHash, prefix, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := time.Now().UTC()
	inv := &Invitation{
		TenantID:    tenantID,
		Email:       req.Email,
		Role:        req.Role,
		TokenHash:   tokenHash,
		TokenPrefix: prefix,
		InvitedBy:   actor.PrincipalID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear out an expired invitation the janitor has not swept yet so
	// it cannot trip the pending uniqueness index below.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM invitations
		WHERE tenant_id = $1 AND email = $2
		  AND accepted_at IS NULL AND cancelled_at IS NULL AND expires_at <= $3`,
		tenantID, req.Email, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired invitations: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invitations (tenant_id, email, role, token_hash, token_prefix, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		inv.TenantID, inv.Email, string(inv.Role), inv.TokenHash, inv.TokenPrefix,
		inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt,
	).Scan(&inv.ID)
	if err != nil {
		// The pending uniqueness index catches the race where two
		// issuers pass the existence check concurrently.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return nil, fault.New(fault.CodeInvitationPending, "an invitation for this email is already pending")
		}
		return nil, fmt.Errorf("failed to insert invitation: %w", err)
	}

	// Synchronous audit: an unrecorded invitation is never issued.
	if err := s.recorder.RecordTx(ctx, tx, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionInvitationIssue,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   fmt.Sprintf("%d", inv.ID),
		Details: map[string]interface{}{
			"email":        inv.Email,
			"role":         string(inv.Role),
			"token_prefix": inv.TokenPrefix,
		},
		RequestID: observability.GetRequestID(ctx),
	}); err != nil {
		return nil, fmt.Errorf("failed to record invitation issuance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	if s.metrics != nil {
		s.metrics.InvitationsIssuedTotal.WithLabelValues(string(inv.Role)).Inc()
	}

	s.notify(inv, token)

	return &Issued{Invitation: inv, Token: token}, nil
}

// Validate returns a redacted preview for a redeemable token.
func (s *PostgresService) Validate(ctx context.Context, token string) (*Preview, error) {
	if err := validateTokenFormat(token); err != nil {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}

	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE token_hash = $1`, invitationColumns)
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, HashToken(token)))
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}

	if inv.StatusAt(time.Now().UTC()) != StatusPending {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}

	preview := &Preview{
		TenantID:  inv.TenantID,
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt,
	}
	if s.tenants != nil {
		if name, err := s.tenants.TenantName(ctx, inv.TenantID); err == nil {
			preview.TenantName = name
		}
	}

	return preview, nil
}

// Accept redeems a token for a principal.
func (s *PostgresService) Accept(ctx context.Context, token string, principalID int64) (*members.Membership, error) {
	if err := validateTokenFormat(token); err != nil {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the invitation row. Two racing accepts serialize here; the
	// loser re-reads a terminal state and fails instead of creating a
	// second membership.
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE token_hash = $1 FOR UPDATE`, invitationColumns)
	inv, err := scanInvitation(tx.QueryRowContext(ctx, query, HashToken(token)))
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}

	now := time.Now().UTC()
	switch inv.StatusAt(now) {
	case StatusAccepted:
		return nil, fault.New(fault.CodeAlreadyAccepted, "invitation has already been accepted")
	case StatusCancelled, StatusExpired:
		return nil, fault.New(fault.CodeInvalidInvitation, "invitation is invalid or expired")
	}

	membership, err := members.CreateOrReactivateTx(ctx, tx, inv.TenantID, principalID, inv.Role)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3`,
		now, principalID, inv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := s.recorder.RecordTx(ctx, tx, &audit.Entry{
		TenantID:     &inv.TenantID,
		PrincipalID:  &principalID,
		Action:       audit.ActionInvitationAccept,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   fmt.Sprintf("%d", inv.ID),
		Details: map[string]interface{}{
			"email": inv.Email,
			"role":  string(inv.Role),
		},
		RequestID: observability.GetRequestID(ctx),
	}); err != nil {
		return nil, fmt.Errorf("failed to record invitation acceptance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}

	if s.metrics != nil {
		s.metrics.InvitationsAcceptedTotal.Inc()
	}

	return membership, nil
}

// Cancel marks an invitation cancelled.
func (s *PostgresService) Cancel(ctx context.Context, actor members.Actor, tenantID, invitationID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := s.lockByID(ctx, tx, tenantID, invitationID)
	if err != nil {
		return err
	}
	if err := s.authorizeManage(actor, inv); err != nil {
		return err
	}
	if inv.IsTerminal() {
		return fault.New(fault.CodeConflict, "invitation is already %s", inv.StatusAt(time.Now().UTC()))
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE invitations SET cancelled_at = $1 WHERE id = $2`,
		now, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	audit.BestEffort(ctx, s.recorder, s.logger, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionInvitationCancel,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   fmt.Sprintf("%d", inv.ID),
		Details:      map[string]interface{}{"email": inv.Email},
		RequestID:    observability.GetRequestID(ctx),
	})

	return nil
}

// Resend rotates the token and extends the expiry window.
func (s *PostgresService) Resend(ctx context.Context, actor members.Actor, tenantID, invitationID int64) (*Issued, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := s.lockByID(ctx, tx, tenantID, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeManage(actor, inv); err != nil {
		return nil, err
	}
	if inv.IsTerminal() {
		return nil, fault.New(fault.CodeConflict, "invitation is already %s", inv.StatusAt(time.Now().UTC()))
	}

	token, tokenHash, prefix, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	_, err = tx.ExecContext(ctx,
		`UPDATE invitations SET token_hash = $1, token_prefix = $2, expires_at = $3 WHERE id = $4`,
		tokenHash, prefix, expiresAt, inv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate invitation token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token rotation: %w", err)
	}

	inv.TokenHash = tokenHash
	inv.TokenPrefix = prefix
	inv.ExpiresAt = expiresAt

	audit.BestEffort(ctx, s.recorder, s.logger, &audit.Entry{
		TenantID:     &tenantID,
		PrincipalID:  &actor.PrincipalID,
		Action:       audit.ActionInvitationResend,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   fmt.Sprintf("%d", inv.ID),
		Details:      map[string]interface{}{"email": inv.Email, "token_prefix": prefix},
		RequestID:    observability.GetRequestID(ctx),
	})

	s.notify(inv, token)

	return &Issued{Invitation: inv, Token: token}, nil
}

// List returns a tenant's invitations, newest first.
func (s *PostgresService) List(ctx context.Context, tenantID int64) ([]*Invitation, error) {
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE tenant_id = $1 ORDER BY created_at DESC`, invitationColumns)

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]*Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invitations, nil
}

// DeleteExpired removes non-terminal invitations past their window.
func (s *PostgresService) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at <= $1 AND accepted_at IS NULL AND cancelled_at IS NULL`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && deleted > 0 {
		s.metrics.InvitationsExpiredSwept.Add(float64(deleted))
	}
	return deleted, nil
}

func (s *PostgresService) lockByID(ctx context.Context, tx *sql.Tx, tenantID, invitationID int64) (*Invitation, error) {
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, invitationColumns)

	inv, err := scanInvitation(tx.QueryRowContext(ctx, query, invitationID, tenantID))
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	return inv, nil
}

// authorizeManage allows the original issuer, or anyone whose rank can
// manage the invited role.
func (s *PostgresService) authorizeManage(actor members.Actor, inv *Invitation) error {
	if actor.PrincipalID == inv.InvitedBy {
		return nil
	}
	if s.engine.CanManageRole(actor.EffectiveRole(), inv.Role) {
		return nil
	}
	return fault.Forbidden("not the issuer and insufficient rank for role %q", inv.Role)
}

// notify dispatches delivery in the background so a slow or failing
// channel never blocks the response that carries the token. The work
// detaches from the request context because the commit has already
// happened.
func (s *PostgresService) notify(inv *Invitation, token string) {
	if s.notifier == nil {
		return
	}
	acceptURL := fmt.Sprintf("%s?token=%s", s.acceptBaseURL, token)
	email, role, tenantID, invitationID := inv.Email, inv.Role, inv.TenantID, inv.ID

	async.SafeGo(context.Background(), s.logger, notifyTimeout, "invitation notification", func(ctx context.Context) error {
		tenantName := ""
		if s.tenants != nil {
			if name, err := s.tenants.TenantName(ctx, tenantID); err == nil {
				tenantName = name
			}
		}

		if err := s.notifier.NotifyInvitation(ctx, email, acceptURL, role, tenantName); err != nil {
			return fmt.Errorf("invitation %d: %w", invitationID, err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var role string
	var acceptedAt, cancelledAt sql.NullTime
	var acceptedBy sql.NullInt64

	if err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.Email, &role, &inv.TokenHash, &inv.TokenPrefix,
		&inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &cancelledAt,
	); err != nil {
		return nil, err
	}

	inv.Role = authz.Role(role)
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.Int64
	}
	if cancelledAt.Valid {
		inv.CancelledAt = &cancelledAt.Time
	}
	return inv, nil
}
