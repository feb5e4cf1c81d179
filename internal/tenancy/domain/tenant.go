package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SubscriptionStatus represents the lifecycle state of a tenant
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusArchived  SubscriptionStatus = "archived"
)

// FeatureSet is a flag→bool map stored as JSONB
type FeatureSet map[string]bool

// Value implements driver.Valuer
func (f FeatureSet) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner
func (f *FeatureSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = FeatureSet{}
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FeatureSet", src)
	}
}

// Enabled reports whether a feature flag is set
func (f FeatureSet) Enabled(name string) bool {
	return f[name]
}

// Tenant represents an isolated customer account. SchemaName and
// ExternalOrgID never change after creation.
type Tenant struct {
	ID                 string             `json:"id" db:"id"`
	Slug               string             `json:"slug" db:"slug"`
	Name               string             `json:"name" db:"name"`
	SchemaName         string             `json:"schema_name" db:"schema_name"`
	ExternalOrgID      string             `json:"external_org_id" db:"external_org_id"`
	SubscriptionTier   string             `json:"subscription_tier" db:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	MaxUsers           int                `json:"max_users" db:"max_users"`
	MaxEntities        int                `json:"max_entities" db:"max_entities"`
	Features           FeatureSet         `json:"features" db:"features"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time         `json:"-" db:"deleted_at"`
}

// IsDeleted reports whether the tenant has been soft-deleted
func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}

// IsTrialExpired reports whether a trial tenant's trial period has lapsed
func (t *Tenant) IsTrialExpired(now time.Time) bool {
	return t.SubscriptionStatus == StatusTrial &&
		t.TrialEndsAt != nil &&
		t.TrialEndsAt.Before(now)
}

// HasUnlimitedEntities reports whether the entity limit is bypassed
func (t *Tenant) HasUnlimitedEntities() bool {
	return t.MaxEntities == UnlimitedEntities
}

// TenantResponse is the tenant payload returned to API clients
type TenantResponse struct {
	ID                 string             `json:"id"`
	Slug               string             `json:"slug"`
	Name               string             `json:"name"`
	SubscriptionTier   string             `json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	MaxUsers           int                `json:"max_users"`
	MaxEntities        int                `json:"max_entities"`
	Features           FeatureSet         `json:"features"`
	CreatedAt          time.Time          `json:"created_at"`

	// Request-scoped fields, set by handlers from the resolved context.
	Role     string `json:"role,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// ToResponse converts a tenant to its API payload. Schema name and external
// identifiers stay internal.
func (t *Tenant) ToResponse() *TenantResponse {
	return &TenantResponse{
		ID:                 t.ID,
		Slug:               t.Slug,
		Name:               t.Name,
		SubscriptionTier:   t.SubscriptionTier,
		SubscriptionStatus: t.SubscriptionStatus,
		TrialEndsAt:        t.TrialEndsAt,
		MaxUsers:           t.MaxUsers,
		MaxEntities:        t.MaxEntities,
		Features:           t.Features,
		CreatedAt:          t.CreatedAt,
	}
}
