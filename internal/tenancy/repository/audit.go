package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

// AuditRepository writes append-only audit log entries
type AuditRepository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB, log *logger.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: log.WithComponent("audit")}
}

const auditInsert = `
	INSERT INTO public.audit_logs (id, tenant_id, user_id, action, resource_type, resource_id, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at
`

// tenantIDValue maps the empty tenant ID to NULL. Entries written before a
// tenant exists, such as failed provisioning attempts, carry no tenant and
// the column is UUID-typed.
func tenantIDValue(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}

// AppendTx writes an entry inside the caller's transaction. Durability is
// tied to the enclosing commit; provisioning uses this so the audit entry
// rolls back with everything else.
func (r *AuditRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *domain.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	err := tx.QueryRowxContext(ctx, auditInsert,
		entry.ID,
		tenantIDValue(entry.TenantID),
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Metadata,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return errors.DataAccess(err, "failed to append audit entry")
	}
	return nil
}

// AppendBestEffort writes an entry outside any transaction. Failures are
// logged and swallowed so audit logging never breaks a user-facing request.
func (r *AuditRepository) AppendBestEffort(ctx context.Context, entry *domain.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	err := r.db.QueryRowxContext(ctx, auditInsert,
		entry.ID,
		tenantIDValue(entry.TenantID),
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Metadata,
	).Scan(&entry.CreatedAt)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("action", entry.Action).
			Str("tenant_id", entry.TenantID).
			Msg("failed to write audit entry")
	}
}
