package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// SchemaManager invokes the database-layer schema provisioning procedures.
// The procedures own the DDL; this side only holds the contract.
type SchemaManager struct {
	db *database.DB
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(db *database.DB) *SchemaManager {
	return &SchemaManager{db: db}
}

// CreateTenantSchemaTx creates the tenant's schema inside the provisioning
// transaction so a later failure rolls the schema back with the tenant row.
func (m *SchemaManager) CreateTenantSchemaTx(ctx context.Context, tx *sqlx.Tx, schemaName string) error {
	if err := database.ValidateSchemaName(schemaName); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT public.create_tenant_schema($1)`, schemaName); err != nil {
		return errors.DataAccess(err, "failed to create tenant schema")
	}
	return nil
}

// DropTenantSchema drops a tenant's schema. Used by offboarding tooling and
// integration tests, never by the request path.
func (m *SchemaManager) DropTenantSchema(ctx context.Context, schemaName string) error {
	if err := database.ValidateSchemaName(schemaName); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, `SELECT public.drop_tenant_schema($1)`, schemaName); err != nil {
		return errors.DataAccess(err, "failed to drop tenant schema")
	}
	return nil
}
