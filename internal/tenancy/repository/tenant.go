package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// TenantRepository handles tenant directory persistence. The directory
// lives in the shared public schema, not in per-tenant schemas.
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `
	id, slug, name, schema_name, external_org_id, subscription_tier,
	subscription_status, trial_ends_at, max_users, max_entities, features,
	created_at, updated_at, deleted_at
`

// CreateTx inserts a tenant inside the provisioning transaction
func (r *TenantRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, t *domain.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO public.tenants (id, slug, name, schema_name, external_org_id,
		                            subscription_tier, subscription_status, trial_ends_at,
		                            max_users, max_entities, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		t.ID,
		t.Slug,
		t.Name,
		t.SchemaName,
		t.ExternalOrgID,
		t.SubscriptionTier,
		t.SubscriptionStatus,
		t.TrialEndsAt,
		t.MaxUsers,
		t.MaxEntities,
		t.Features,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByExternalOrgID fetches a tenant by its identity-provider organization
// ID. Soft-deleted tenants are returned too; the resolver decides how to
// treat them.
func (r *TenantRepository) GetByExternalOrgID(ctx context.Context, externalOrgID string) (*domain.Tenant, error) {
	var t domain.Tenant
	query := `SELECT ` + tenantColumns + ` FROM public.tenants WHERE external_org_id = $1`

	err := r.db.GetContext(ctx, &t, query, externalOrgID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tenant")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch tenant")
	}
	return &t, nil
}

// GetByID fetches a tenant by internal ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	query := `SELECT ` + tenantColumns + ` FROM public.tenants WHERE id = $1`

	err := r.db.GetContext(ctx, &t, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tenant")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch tenant")
	}
	return &t, nil
}

// SlugExists reports whether any tenant, archived included, holds the slug
func (r *TenantRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM public.tenants WHERE slug = $1)`

	if err := r.db.GetContext(ctx, &exists, query, slug); err != nil {
		return false, errors.DataAccess(err, "failed to check slug")
	}
	return exists, nil
}

// UpdateName updates the tenant's display name. Slug and schema name are
// immutable after creation.
func (r *TenantRepository) UpdateName(ctx context.Context, id, name string) error {
	query := `UPDATE public.tenants SET name = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, name)
	if err != nil {
		return errors.DataAccess(err, "failed to update tenant name")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("tenant")
	}
	return nil
}

// UpdateSubscription updates tier, status and the tier-driven limits
func (r *TenantRepository) UpdateSubscription(ctx context.Context, id, tier string, status domain.SubscriptionStatus, spec domain.TierSpec) error {
	query := `
		UPDATE public.tenants
		SET subscription_tier = $2, subscription_status = $3,
		    max_users = $4, max_entities = $5, features = $6, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, tier, status, spec.MaxUsers, spec.MaxEntities, spec.Features)
	if err != nil {
		return errors.DataAccess(err, "failed to update subscription")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("tenant")
	}
	return nil
}

// Archive soft-deletes a tenant: status becomes archived and deleted_at is
// stamped. The schema is retained. Archiving twice is a no-op.
func (r *TenantRepository) Archive(ctx context.Context, id string) error {
	query := `
		UPDATE public.tenants
		SET subscription_status = 'archived', deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return errors.DataAccess(err, "failed to archive tenant")
	}
	return nil
}

// CountActive counts non-deleted tenants
func (r *TenantRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM public.tenants WHERE deleted_at IS NULL`

	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, errors.DataAccess(err, "failed to count tenants")
	}
	return count, nil
}
