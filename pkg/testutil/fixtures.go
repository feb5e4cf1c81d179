package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantFixture represents test tenant data
type TenantFixture struct {
	ID                 string
	Slug               string
	Name               string
	SchemaName         string
	ExternalOrgID      string
	SubscriptionTier   string
	SubscriptionStatus string
	TrialEndsAt        *time.Time
	MaxUsers           int
	MaxEntities        int
	Features           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// UserFixture represents test user data
type UserFixture struct {
	ID             string
	ExternalUserID string
	Email          string
	FirstName      string
	LastName       string
	Role           string
	TenantID       *string
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditLogFixture represents test audit log data
type AuditLogFixture struct {
	ID           string
	TenantID     string
	UserID       *string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     string
	CreatedAt    time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// Tenant creates a tenant fixture on an active trial
func (f *FixtureFactory) Tenant(opts ...func(*TenantFixture)) *TenantFixture {
	n := f.next()
	now := time.Now().UTC()
	trialEnd := now.Add(14 * 24 * time.Hour)

	t := &TenantFixture{
		ID:                 uuid.New().String(),
		Slug:               fmt.Sprintf("acme-corp-%d", n),
		Name:               fmt.Sprintf("Acme Corp %d", n),
		SchemaName:         fmt.Sprintf("tenant_acme_corp_%d", n),
		ExternalOrgID:      fmt.Sprintf("org_%s", uuid.New().String()[:8]),
		SubscriptionTier:   "starter",
		SubscriptionStatus: "trial",
		TrialEndsAt:        &trialEnd,
		MaxUsers:           5,
		MaxEntities:        500,
		Features:           `{"advanced_reports": true}`,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// User creates a user fixture attached to the given tenant
func (f *FixtureFactory) User(tenantID string, opts ...func(*UserFixture)) *UserFixture {
	n := f.next()
	now := time.Now().UTC()

	u := &UserFixture{
		ID:             uuid.New().String(),
		ExternalUserID: fmt.Sprintf("user_%s", uuid.New().String()[:8]),
		Email:          fmt.Sprintf("user%d@example.com", n),
		FirstName:      "Test",
		LastName:       fmt.Sprintf("User%d", n),
		Role:           "member",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tenantID != "" {
		u.TenantID = &tenantID
	}

	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Owner creates an owner user fixture attached to the given tenant
func (f *FixtureFactory) Owner(tenantID string) *UserFixture {
	return f.User(tenantID, func(u *UserFixture) {
		u.Role = "owner"
	})
}

// AuditLog creates an audit log entry fixture
func (f *FixtureFactory) AuditLog(tenantID, action string) *AuditLogFixture {
	return &AuditLogFixture{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Action:       action,
		ResourceType: "tenant",
		ResourceID:   tenantID,
		Metadata:     "{}",
		CreatedAt:    time.Now().UTC(),
	}
}
