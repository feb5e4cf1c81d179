package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant lifecycle event types
const (
	EventTenantCreated  = "tenant.created"
	EventTenantUpdated  = "tenant.updated"
	EventTenantArchived = "tenant.archived"

	EventUserAttached    = "tenant.user.attached"
	EventUserDetached    = "tenant.user.detached"
	EventUserRoleChanged = "tenant.user.role_changed"
)

// ExchangeTenantEvents carries all tenant lifecycle events. Downstream
// services (billing sync, analytics, notifications) bind to it with
// routing key patterns.
const ExchangeTenantEvents = "tenant.events"

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// TenantCreatedEvent is published after a tenant is provisioned
type TenantCreatedEvent struct {
	TenantID      string `json:"tenant_id"`
	Slug          string `json:"slug"`
	SchemaName    string `json:"schema_name"`
	ExternalOrgID string `json:"external_org_id"`
	Tier          string `json:"tier"`
	Status        string `json:"status"`
	OwnerUserID   string `json:"owner_user_id"`
}

// TenantUpdatedEvent is published when organization metadata or
// subscription state changes
type TenantUpdatedEvent struct {
	TenantID string         `json:"tenant_id"`
	Slug     string         `json:"slug"`
	Fields   map[string]any `json:"fields"`
}

// TenantArchivedEvent is published when a tenant is soft-deleted. The
// schema is retained; consumers must stop serving the tenant.
type TenantArchivedEvent struct {
	TenantID   string `json:"tenant_id"`
	Slug       string `json:"slug"`
	SchemaName string `json:"schema_name"`
}

// UserAttachedEvent is published when a user joins a tenant
type UserAttachedEvent struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	ExternalUserID string `json:"external_user_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}

// UserDetachedEvent is published when a user leaves a tenant
type UserDetachedEvent struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	ExternalUserID string `json:"external_user_id"`
}

// UserRoleChangedEvent is published when a member's role changes
type UserRoleChangedEvent struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	OldRole  string `json:"old_role"`
	NewRole  string `json:"new_role"`
}
