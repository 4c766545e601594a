package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trusteekit/boardroom/pkg/observability"
)

// Recorder appends and reads audit entries.
type Recorder interface {
	// Record appends one entry. It must never mutate existing rows.
	Record(ctx context.Context, entry *Entry) error

	// RecordTx appends one entry inside a caller-owned transaction, so
	// the entry commits or rolls back together with the mutation it
	// describes. Required for the synchronous action classes.
	RecordTx(ctx context.Context, tx *sql.Tx, entry *Entry) error

	// Query returns a tenant's entries, newest first, paginated.
	Query(ctx context.Context, tenantID int64, filter QueryFilter) ([]*Entry, error)

	// ResourceHistory returns every entry referencing one resource,
	// newest first, for a single-item audit trail view.
	ResourceHistory(ctx context.Context, resourceType ResourceType, resourceID string) ([]*Entry, error)

	// Purge removes entries older than the retention window. Callers
	// must authorize this separately; it is the only deletion path.
	Purge(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBRecorder implements Recorder on PostgreSQL.
type DBRecorder struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewDBRecorder creates a database-backed recorder and ensures the
// audit table exists.
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &DBRecorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}
	return r, nil
}

// WithMetrics attaches write/purge counters. Accepts nil.
func (r *DBRecorder) WithMetrics(m *observability.Metrics) *DBRecorder {
	r.metrics = m
	return r
}

func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT,
		principal_id BIGINT,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(50) NOT NULL,
		resource_id VARCHAR(255),
		details JSONB,
		request_id VARCHAR(100),
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_tenant_occurred ON audit_entries(tenant_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_resource ON audit_entries(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record appends one entry.
func (r *DBRecorder) Record(ctx context.Context, entry *Entry) error {
	return r.record(ctx, r.db, entry)
}

// RecordTx appends one entry on the caller's open transaction.
func (r *DBRecorder) RecordTx(ctx context.Context, tx *sql.Tx, entry *Entry) error {
	return r.record(ctx, tx, entry)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *DBRecorder) record(ctx context.Context, q rowQuerier, entry *Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (tenant_id, principal_id, action, resource_type, resource_id, details, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		entry.TenantID, entry.PrincipalID, entry.Action, entry.ResourceType,
		entry.ResourceID, detailsJSON, entry.RequestID, entry.OccurredAt,
	).Scan(&entry.ID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.AuditWriteFailures.Inc()
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if r.metrics != nil {
		r.metrics.AuditWritesTotal.WithLabelValues(string(entry.Action)).Inc()
	}
	return nil
}

// Query returns a tenant's entries, newest first.
func (r *DBRecorder) Query(ctx context.Context, tenantID int64, filter QueryFilter) ([]*Entry, error) {
	query := `
		SELECT id, tenant_id, principal_id, action, resource_type, resource_id, details, request_id, occurred_at
		FROM audit_entries
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}
	argCount := 2

	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.PrincipalID != nil {
		query += fmt.Sprintf(" AND principal_id = $%d", argCount)
		args = append(args, *filter.PrincipalID)
		argCount++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	if filter.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, *filter.Until)
		argCount++
	}

	query += " ORDER BY occurred_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	return r.queryEntries(ctx, query, args...)
}

// ResourceHistory returns all entries referencing one resource.
func (r *DBRecorder) ResourceHistory(ctx context.Context, resourceType ResourceType, resourceID string) ([]*Entry, error) {
	query := `
		SELECT id, tenant_id, principal_id, action, resource_type, resource_id, details, request_id, occurred_at
		FROM audit_entries
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY occurred_at DESC
	`
	return r.queryEntries(ctx, query, string(resourceType), resourceID)
}

// Purge removes entries older than the retention window.
func (r *DBRecorder) Purge(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	result, err := r.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if r.metrics != nil && purged > 0 {
		r.metrics.AuditEntriesPurged.Add(float64(purged))
	}
	return purged, nil
}

func (r *DBRecorder) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var detailsJSON []byte
		var resourceID, requestID sql.NullString

		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.PrincipalID, &entry.Action,
			&entry.ResourceType, &resourceID, &detailsJSON, &requestID, &entry.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if resourceID.Valid {
			entry.ResourceID = resourceID.String
		}
		if requestID.Valid {
			entry.RequestID = requestID.String
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// BestEffort records an entry and logs on failure instead of returning
// the error. Only valid for actions outside the synchronous classes;
// synchronous actions are recorded inline by their owning operation so
// a failed write fails the whole mutation.
func BestEffort(ctx context.Context, r Recorder, log *observability.Logger, entry *Entry) {
	if IsSynchronous(entry.Action) {
		// Programming error; record inline and surface loudly.
		log.WithField("action", string(entry.Action)).
			Warn("synchronous audit action recorded through best-effort path")
	}
	if err := r.Record(ctx, entry); err != nil {
		log.WithError(err).
			WithField("action", string(entry.Action)).
			Error("failed to record audit entry")
	}
}
