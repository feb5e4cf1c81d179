// Package events publishes tenant lifecycle events for downstream
// consumers. Publishing is best-effort: a broker outage never fails the
// operation that triggered the event.
package events

import (
	"context"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/messaging"
)

// Publisher is the broker-side contract. Satisfied by messaging.Publisher
// and by testutil.MockPublisher.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// LifecycleEventPublisher emits tenant lifecycle events
type LifecycleEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewLifecycleEventPublisher creates a lifecycle publisher. A nil broker
// publisher disables event emission.
func NewLifecycleEventPublisher(p Publisher, log *logger.Logger) *LifecycleEventPublisher {
	return &LifecycleEventPublisher{
		publisher: p,
		logger:    log.WithComponent("lifecycle-events"),
	}
}

func (p *LifecycleEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish lifecycle event")
	}
}

// TenantCreated emits tenant.created after a successful provisioning commit
func (p *LifecycleEventPublisher) TenantCreated(ctx context.Context, t *domain.Tenant, owner *domain.User) {
	p.publish(ctx, messaging.EventTenantCreated, messaging.TenantCreatedEvent{
		TenantID:      t.ID,
		Slug:          t.Slug,
		SchemaName:    t.SchemaName,
		ExternalOrgID: t.ExternalOrgID,
		Tier:          t.SubscriptionTier,
		Status:        string(t.SubscriptionStatus),
		OwnerUserID:   owner.ID,
	})
}

// TenantUpdated emits tenant.updated with the changed fields
func (p *LifecycleEventPublisher) TenantUpdated(ctx context.Context, t *domain.Tenant, fields map[string]any) {
	p.publish(ctx, messaging.EventTenantUpdated, messaging.TenantUpdatedEvent{
		TenantID: t.ID,
		Slug:     t.Slug,
		Fields:   fields,
	})
}

// TenantArchived emits tenant.archived after a soft delete
func (p *LifecycleEventPublisher) TenantArchived(ctx context.Context, t *domain.Tenant) {
	p.publish(ctx, messaging.EventTenantArchived, messaging.TenantArchivedEvent{
		TenantID:   t.ID,
		Slug:       t.Slug,
		SchemaName: t.SchemaName,
	})
}

// UserAttached emits tenant.user.attached when a user joins a tenant
func (p *LifecycleEventPublisher) UserAttached(ctx context.Context, tenantID string, u *domain.User) {
	p.publish(ctx, messaging.EventUserAttached, messaging.UserAttachedEvent{
		TenantID:       tenantID,
		UserID:         u.ID,
		ExternalUserID: u.ExternalUserID,
		Email:          u.Email,
		Role:           string(u.Role),
	})
}

// UserDetached emits tenant.user.detached when a user leaves a tenant
func (p *LifecycleEventPublisher) UserDetached(ctx context.Context, tenantID string, u *domain.User) {
	p.publish(ctx, messaging.EventUserDetached, messaging.UserDetachedEvent{
		TenantID:       tenantID,
		UserID:         u.ID,
		ExternalUserID: u.ExternalUserID,
	})
}

// UserRoleChanged emits tenant.user.role_changed after a role mutation
func (p *LifecycleEventPublisher) UserRoleChanged(ctx context.Context, tenantID string, u *domain.User, oldRole, newRole domain.Role) {
	p.publish(ctx, messaging.EventUserRoleChanged, messaging.UserRoleChangedEvent{
		TenantID: tenantID,
		UserID:   u.ID,
		OldRole:  string(oldRole),
		NewRole:  string(newRole),
	})
}
