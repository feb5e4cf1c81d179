package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capliquify/capliquify-backend/internal/tenancy/cache"
	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/events"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/messaging"
	"github.com/capliquify/capliquify-backend/pkg/testutil"
)

func newTestService(t *testing.T) (*ProvisioningService, *testutil.MockDB, *testutil.MockPublisher) {
	t.Helper()

	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewFromSqlx(mockDB.DB, logger.Nop())
	publisher := testutil.NewMockPublisher()

	svc := NewProvisioningService(
		db,
		repository.NewTenantRepository(db),
		repository.NewUserRepository(db),
		repository.NewAuditRepository(db, logger.Nop()),
		repository.NewSchemaManager(db),
		nil, // identity validation disabled
		cache.New(nil, 0, logger.Nop()),
		events.NewLifecycleEventPublisher(publisher, logger.Nop()),
		logger.Nop(),
	)
	return svc, mockDB, publisher
}

func validInput() ProvisionInput {
	return ProvisionInput{
		ExternalOrgID:  "org_acme",
		ExternalUserID: "user_jane",
		OrgName:        "Acme Manufacturing",
		Slug:           "acme-manufacturing",
		Tier:           domain.TierStarter,
		OwnerEmail:     "jane@acme.test",
		OwnerFirstName: "Jane",
		OwnerLastName:  "Doe",
	}
}

func existingTenantRows() *sqlmock.Rows {
	now := time.Now().UTC()
	trialEnd := now.Add(14 * 24 * time.Hour)
	return testutil.MockRows(
		"id", "slug", "name", "schema_name", "external_org_id",
		"subscription_tier", "subscription_status", "trial_ends_at",
		"max_users", "max_entities", "features",
		"created_at", "updated_at", "deleted_at",
	).AddRow(
		"tenant-1", "acme-manufacturing", "Acme Manufacturing", "tenant_acme_manufacturing", "org_acme",
		"starter", "trial", trialEnd,
		5, 500, []byte(`{}`),
		now, now, nil,
	)
}

func ownerRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return testutil.MockRows(
		"id", "external_user_id", "email", "first_name", "last_name", "role",
		"tenant_id", "last_login_at", "created_at", "updated_at",
	).AddRow(
		"user-1", "user_jane", "jane@acme.test", "Jane", "Doe", "owner",
		"tenant-1", nil, now, now,
	)
}

func TestProvisionTenantCreatesEverythingAtomically(t *testing.T) {
	svc, mockDB, publisher := newTestService(t)
	now := time.Now().UTC()

	// Idempotency precheck: no tenant for this org yet.
	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(testutil.MockRows("id"))

	// Slug precheck.
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO public.tenants`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectExec(`SELECT public.create_tenant_schema\(\$1\)`).
		WithArgs("tenant_acme_manufacturing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery(`FROM public.users WHERE external_user_id`).
		WithArgs("user_jane").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery(`INSERT INTO public.users`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectQuery(`INSERT INTO public.audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.Mock.ExpectCommit()

	result, err := svc.ProvisionTenant(context.Background(), validInput())
	require.NoError(t, err)

	assert.False(t, result.AlreadyExisted)
	assert.Equal(t, "tenant_acme_manufacturing", result.Tenant.SchemaName)
	assert.Equal(t, domain.StatusTrial, result.Tenant.SubscriptionStatus)
	assert.NotNil(t, result.Tenant.TrialEndsAt)
	assert.Equal(t, 5, result.Tenant.MaxUsers)
	assert.Equal(t, 500, result.Tenant.MaxEntities)
	assert.Equal(t, domain.RoleOwner, result.Owner.Role)

	publisher.AssertEventPublished(t, messaging.EventTenantCreated)
	mockDB.ExpectationsWereMet(t)
}

func TestProvisionTenantIdempotentWhenAlreadyProvisioned(t *testing.T) {
	svc, mockDB, publisher := newTestService(t)

	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(existingTenantRows())
	mockDB.Mock.ExpectQuery(`FROM public.users WHERE tenant_id = \$1 AND role = 'owner'`).
		WithArgs("tenant-1").
		WillReturnRows(ownerRows())

	result, err := svc.ProvisionTenant(context.Background(), validInput())
	require.NoError(t, err)

	assert.True(t, result.AlreadyExisted)
	assert.Equal(t, "tenant-1", result.Tenant.ID)
	assert.Equal(t, "user-1", result.Owner.ID)

	// No side effects on the idempotent path.
	publisher.AssertNoEvents(t)
	mockDB.ExpectationsWereMet(t)
}

func TestProvisionTenantInsertRaceConvergesToExisting(t *testing.T) {
	svc, mockDB, publisher := newTestService(t)

	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO public.tenants`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_external_org_id_key"})
	mockDB.Mock.ExpectRollback()

	// The loser refetches the winner's row.
	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(existingTenantRows())
	mockDB.Mock.ExpectQuery(`FROM public.users WHERE tenant_id = \$1 AND role = 'owner'`).
		WithArgs("tenant-1").
		WillReturnRows(ownerRows())

	result, err := svc.ProvisionTenant(context.Background(), validInput())
	require.NoError(t, err)
	assert.True(t, result.AlreadyExisted)
	assert.Equal(t, "tenant-1", result.Tenant.ID)

	publisher.AssertNoEvents(t)
	mockDB.ExpectationsWereMet(t)
}

func TestProvisionTenantSchemaFailureRollsBackEverything(t *testing.T) {
	svc, mockDB, publisher := newTestService(t)
	now := time.Now().UTC()

	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO public.tenants`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectExec(`SELECT public.create_tenant_schema\(\$1\)`).
		WillReturnError(assert.AnError)
	mockDB.Mock.ExpectRollback()

	// Failure is recorded best-effort outside the rolled-back transaction.
	mockDB.Mock.ExpectQuery(`INSERT INTO public.audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	_, err := svc.ProvisionTenant(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	assert.Contains(t, err.Error(), "provisioning failed")

	publisher.AssertNoEvents(t)
	mockDB.ExpectationsWereMet(t)
}

func TestProvisionTenantRejectsBogusTier(t *testing.T) {
	svc, _, publisher := newTestService(t)

	in := validInput()
	in.Tier = "bogus"

	_, err := svc.ProvisionTenant(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	publisher.AssertNoEvents(t)
}

func TestProvisionTenantRejectsInvalidSlug(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, slug := range []string{"Acme Co", "ab", "-acme", "acme--corp"} {
		in := validInput()
		in.Slug = slug

		_, err := svc.ProvisionTenant(context.Background(), in)
		require.Error(t, err, "slug %q", slug)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	}
}

func TestProvisionTenantRejectsTakenSlug(t *testing.T) {
	svc, mockDB, _ := newTestService(t)

	mockDB.Mock.ExpectQuery(`FROM public.tenants WHERE external_org_id`).
		WithArgs("org_acme").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	_, err := svc.ProvisionTenant(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	mockDB.ExpectationsWereMet(t)
}

func TestCheckSlugAvailability(t *testing.T) {
	svc, mockDB, _ := newTestService(t)
	ctx := context.Background()

	// Invalid format short-circuits without touching the database.
	result, err := svc.CheckSlugAvailability(ctx, "Acme Co")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Available)

	// Free slug.
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	result, err = svc.CheckSlugAvailability(ctx, "acme-manufacturing")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.Available)

	// Taken slug: suggestions are verified one by one; acme-2 is taken,
	// the rest are free.
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-2").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-3").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-4").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))
	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	result, err = svc.CheckSlugAvailability(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.Available)
	require.Len(t, result.Suggestions, 3)
	assert.Equal(t, "acme-3", result.Suggestions[0])
	assert.Equal(t, "acme-4", result.Suggestions[1])

	mockDB.ExpectationsWereMet(t)
}
