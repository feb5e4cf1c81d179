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

// UserRepository handles directory user persistence in the public schema
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, external_user_id, email, first_name, last_name, role, tenant_id,
	last_login_at, created_at, updated_at
`

// CreateTx inserts a user inside a transaction (provisioning path)
func (r *UserRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	query := `
		INSERT INTO public.users (id, external_user_id, email, first_name, last_name, role, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		u.ID,
		u.ExternalUserID,
		u.Email,
		u.FirstName,
		u.LastName,
		u.Role,
		u.TenantID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

// Create inserts a user outside any enclosing transaction
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	query := `
		INSERT INTO public.users (id, external_user_id, email, first_name, last_name, role, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		u.ID,
		u.ExternalUserID,
		u.Email,
		u.FirstName,
		u.LastName,
		u.Role,
		u.TenantID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByExternalUserID fetches a user by identity-provider ID
func (r *UserRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*domain.User, error) {
	var u domain.User
	query := `SELECT ` + userColumns + ` FROM public.users WHERE external_user_id = $1`

	err := r.db.GetContext(ctx, &u, query, externalUserID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch user")
	}
	return &u, nil
}

// GetByExternalUserIDTx is the transactional variant used by provisioning
// to resolve insert races.
func (r *UserRepository) GetByExternalUserIDTx(ctx context.Context, tx *sqlx.Tx, externalUserID string) (*domain.User, error) {
	var u domain.User
	query := `SELECT ` + userColumns + ` FROM public.users WHERE external_user_id = $1`

	err := tx.GetContext(ctx, &u, query, externalUserID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch user")
	}
	return &u, nil
}

// GetByID fetches a user by internal ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	query := `SELECT ` + userColumns + ` FROM public.users WHERE id = $1`

	err := r.db.GetContext(ctx, &u, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch user")
	}
	return &u, nil
}

// GetOwner fetches the owner user of a tenant
func (r *UserRepository) GetOwner(ctx context.Context, tenantID string) (*domain.User, error) {
	var u domain.User
	query := `SELECT ` + userColumns + ` FROM public.users WHERE tenant_id = $1 AND role = 'owner' ORDER BY created_at LIMIT 1`

	err := r.db.GetContext(ctx, &u, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("owner")
	}
	if err != nil {
		return nil, errors.DataAccess(err, "failed to fetch owner")
	}
	return &u, nil
}

// CountByTenant counts users attached to a tenant (maxUsers enforcement)
func (r *UserRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM public.users WHERE tenant_id = $1`

	if err := r.db.GetContext(ctx, &count, query, tenantID); err != nil {
		return 0, errors.DataAccess(err, "failed to count tenant users")
	}
	return count, nil
}

// attachQuery only claims a detached user. Two concurrent attaches race on
// the same row; the statement that finds tenant_id already set affects zero
// rows, so the first claim wins and the loser sees a conflict.
const attachQuery = `UPDATE public.users SET tenant_id = $2, role = $3, updated_at = now() WHERE id = $1 AND tenant_id IS NULL`

// AttachTx claims a detached user for a tenant inside the caller's
// transaction. Provisioning uses it to adopt a detached user as the tenant
// owner.
func (r *UserRepository) AttachTx(ctx context.Context, tx *sqlx.Tx, userID, tenantID string, role domain.Role) error {
	result, err := tx.ExecContext(ctx, attachQuery, userID, tenantID, role)
	if err != nil {
		return errors.DataAccess(err, "failed to attach user")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.Conflict("user is no longer detached")
	}
	return nil
}

// Attach claims a detached user for a tenant. Zero affected rows means the
// user was concurrently attached (or removed); callers re-read to decide
// whether the winner was themselves.
func (r *UserRepository) Attach(ctx context.Context, userID, tenantID string, role domain.Role) error {
	result, err := r.db.ExecContext(ctx, attachQuery, userID, tenantID, role)
	if err != nil {
		return errors.DataAccess(err, "failed to attach user")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.Conflict("user is no longer detached")
	}
	return nil
}

// Detach clears the user's tenant membership. The user record itself is
// never deleted. Detached users fall back to the viewer role.
func (r *UserRepository) Detach(ctx context.Context, userID string) error {
	query := `UPDATE public.users SET tenant_id = NULL, role = 'viewer', updated_at = now() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return errors.DataAccess(err, "failed to detach user")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("user")
	}
	return nil
}

// UpdateRole changes the user's role
func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role domain.Role) error {
	query := `UPDATE public.users SET role = $2, updated_at = now() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, userID, role)
	if err != nil {
		return errors.DataAccess(err, "failed to update role")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("user")
	}
	return nil
}

// UpdateLastLogin stamps last_login_at. Callers treat failures as
// best-effort.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	query := `UPDATE public.users SET last_login_at = now() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return errors.DataAccess(err, "failed to stamp last login")
	}
	return nil
}
