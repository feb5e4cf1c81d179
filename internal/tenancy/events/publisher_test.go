package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/events"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/messaging"
	"github.com/capliquify/capliquify-backend/pkg/testutil"
)

func testTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:                 "tenant-1",
		Slug:               "acme",
		Name:               "Acme",
		SchemaName:         "tenant_acme",
		ExternalOrgID:      "org_acme",
		SubscriptionTier:   domain.TierStarter,
		SubscriptionStatus: domain.StatusTrial,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestTenantCreatedEventCarriesSchemaAndOwner(t *testing.T) {
	mock := testutil.NewMockPublisher()
	pub := events.NewLifecycleEventPublisher(mock, logger.Nop())

	owner := &domain.User{ID: "user-1", ExternalUserID: "user_jane", Role: domain.RoleOwner}
	pub.TenantCreated(context.Background(), testTenant(), owner)

	require.Len(t, mock.PublishedEvents, 1)
	assert.Equal(t, messaging.EventTenantCreated, mock.PublishedEvents[0].Type)

	payload, ok := mock.PublishedEvents[0].Payload.(messaging.TenantCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "tenant_acme", payload.SchemaName)
	assert.Equal(t, "org_acme", payload.ExternalOrgID)
	assert.Equal(t, "user-1", payload.OwnerUserID)
}

func TestUserRoleChangedEventCarriesBothRoles(t *testing.T) {
	mock := testutil.NewMockPublisher()
	pub := events.NewLifecycleEventPublisher(mock, logger.Nop())

	user := &domain.User{ID: "user-2", ExternalUserID: "user_bob"}
	pub.UserRoleChanged(context.Background(), "tenant-1", user, domain.RoleMember, domain.RoleAdmin)

	require.Len(t, mock.PublishedEvents, 1)
	payload, ok := mock.PublishedEvents[0].Payload.(messaging.UserRoleChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "member", payload.OldRole)
	assert.Equal(t, "admin", payload.NewRole)
}

func TestNilBrokerDisablesPublishing(t *testing.T) {
	pub := events.NewLifecycleEventPublisher(nil, logger.Nop())

	// Must not panic or block.
	pub.TenantArchived(context.Background(), testTenant())
	pub.UserDetached(context.Background(), "tenant-1", &domain.User{ID: "user-2"})
}
