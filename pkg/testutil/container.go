// Package testutil provides testing utilities for the Capliquify backend.
// It includes a testcontainers PostgreSQL instance, sqlmock wrappers for
// schema-scoped queries, and common test fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "capliquify_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "capliquify_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// BootstrapPublicSchema creates the shared directory tables and the schema
// provisioning procedures, mirroring the production migration set.
func (c *PostgresContainer) BootstrapPublicSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS public.tenants (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			slug VARCHAR(50) NOT NULL,
			name VARCHAR(255) NOT NULL,
			schema_name VARCHAR(63) NOT NULL,
			external_org_id VARCHAR(255) NOT NULL,
			subscription_tier VARCHAR(32) NOT NULL DEFAULT 'starter',
			subscription_status VARCHAR(32) NOT NULL DEFAULT 'trial',
			trial_ends_at TIMESTAMPTZ,
			max_users INTEGER NOT NULL DEFAULT 5,
			max_entities INTEGER NOT NULL DEFAULT 500,
			features JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ,
			CONSTRAINT tenants_slug_key UNIQUE (slug),
			CONSTRAINT tenants_schema_name_key UNIQUE (schema_name),
			CONSTRAINT tenants_external_org_id_key UNIQUE (external_org_id)
		);

		CREATE TABLE IF NOT EXISTS public.users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			external_user_id VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			first_name VARCHAR(100) NOT NULL DEFAULT '',
			last_name VARCHAR(100) NOT NULL DEFAULT '',
			role VARCHAR(32) NOT NULL DEFAULT 'member',
			tenant_id UUID REFERENCES public.tenants(id),
			last_login_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT users_external_user_id_key UNIQUE (external_user_id)
		);

		CREATE TABLE IF NOT EXISTS public.audit_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID,
			user_id UUID,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE OR REPLACE FUNCTION public.create_tenant_schema(p_schema_name TEXT)
		RETURNS void AS $fn$
		BEGIN
			EXECUTE format('CREATE SCHEMA IF NOT EXISTS %I', p_schema_name);
			EXECUTE format('CREATE TABLE IF NOT EXISTS %I.entities (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				name VARCHAR(255) NOT NULL,
				kind VARCHAR(100) NOT NULL,
				attributes JSONB NOT NULL DEFAULT ''{}'',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)', p_schema_name);
			EXECUTE format('CREATE TABLE IF NOT EXISTS %I.reports (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				title VARCHAR(255) NOT NULL,
				payload JSONB NOT NULL DEFAULT ''{}'',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)', p_schema_name);
		END;
		$fn$ LANGUAGE plpgsql;

		CREATE OR REPLACE FUNCTION public.drop_tenant_schema(p_schema_name TEXT)
		RETURNS void AS $fn$
		BEGIN
			EXECUTE format('DROP SCHEMA IF EXISTS %I CASCADE', p_schema_name);
		END;
		$fn$ LANGUAGE plpgsql;
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to bootstrap public schema: %w", err)
	}
	return nil
}
