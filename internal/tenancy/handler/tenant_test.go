package handler_test

import (
	"net/http"
	"testing"

	"github.com/capliquify/capliquify-backend/internal/tenancy/cache"
	"github.com/capliquify/capliquify-backend/internal/tenancy/events"
	"github.com/capliquify/capliquify-backend/internal/tenancy/handler"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/internal/tenancy/service"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/testutil"
)

func newTestHandler(t *testing.T) (*handler.TenantHandler, *testutil.MockDB) {
	t.Helper()

	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewFromSqlx(mockDB.DB, logger.Nop())
	svc := service.NewProvisioningService(
		db,
		repository.NewTenantRepository(db),
		repository.NewUserRepository(db),
		repository.NewAuditRepository(db, logger.Nop()),
		repository.NewSchemaManager(db),
		nil,
		cache.New(nil, 0, logger.Nop()),
		events.NewLifecycleEventPublisher(testutil.NewMockPublisher(), logger.Nop()),
		logger.Nop(),
	)
	return handler.NewTenantHandler(svc, logger.Nop()), mockDB
}

func TestCreateTenantRejectsInvalidBody(t *testing.T) {
	h, mockDB := newTestHandler(t)

	req := testutil.NewHTTPRequest(http.MethodPost, "/api/v1/tenants", map[string]string{
		"external_org_id": "org_acme",
	})
	rr := testutil.ExecuteRequest(http.HandlerFunc(h.Create), req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, "ExternalUserID")
	mockDB.ExpectationsWereMet(t)
}

func TestCreateTenantRejectsBogusTier(t *testing.T) {
	h, mockDB := newTestHandler(t)

	req := testutil.NewHTTPRequest(http.MethodPost, "/api/v1/tenants", map[string]string{
		"external_org_id":  "org_acme",
		"external_user_id": "user_jane",
		"org_name":         "Acme Manufacturing",
		"slug":             "acme-manufacturing",
		"tier":             "platinum",
	})
	rr := testutil.ExecuteRequest(http.HandlerFunc(h.Create), req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, "must be one of")
	mockDB.ExpectationsWereMet(t)
}

func TestSlugAvailabilityRequiresParam(t *testing.T) {
	h, mockDB := newTestHandler(t)

	req := testutil.NewHTTPRequest(http.MethodGet, "/api/v1/tenants/slug-availability", nil)
	rr := testutil.ExecuteRequest(http.HandlerFunc(h.SlugAvailability), req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	mockDB.ExpectationsWereMet(t)
}

func TestSlugAvailabilityReportsFreeSlug(t *testing.T) {
	h, mockDB := newTestHandler(t)

	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acme-manufacturing").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	req := testutil.NewHTTPRequest(http.MethodGet, "/api/v1/tenants/slug-availability?slug=acme-manufacturing", nil)
	rr := testutil.ExecuteRequest(http.HandlerFunc(h.SlugAvailability), req)

	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Data struct {
			Slug      string `json:"slug"`
			Available bool   `json:"available"`
		} `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	if !body.Data.Available {
		t.Errorf("expected slug to be reported available, got %+v", body.Data)
	}
	mockDB.ExpectationsWereMet(t)
}
