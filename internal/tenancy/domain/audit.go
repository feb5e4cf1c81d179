package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions
const (
	AuditTenantCreated   = "tenant.created"
	AuditTenantUpdated   = "tenant.updated"
	AuditTenantArchived  = "tenant.archived"
	AuditUserAttached    = "user.attached"
	AuditUserDetached    = "user.detached"
	AuditUserRoleChanged = "user.role_changed"
	AuditWebhookFailed   = "webhook.processing_failed"
	AuditProvisionFailed = "tenant.provisioning_failed"
)

// Metadata is arbitrary structured context stored as JSONB
type Metadata map[string]interface{}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// AuditLogEntry is an append-only record. Entries are never mutated or
// deleted once written.
type AuditLogEntry struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	UserID       *string   `json:"user_id,omitempty" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Metadata     Metadata  `json:"metadata" db:"metadata"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
