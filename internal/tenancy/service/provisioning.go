// Package service implements the tenant lifecycle orchestration: atomic,
// idempotent provisioning and the directory mutations driven by onboarding
// calls and identity-provider webhooks.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/capliquify/capliquify-backend/internal/identity"
	"github.com/capliquify/capliquify-backend/internal/tenancy/cache"
	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/events"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/metrics"
)

const trialPeriod = 14 * 24 * time.Hour

// ProvisioningService orchestrates tenant creation and lifecycle updates
type ProvisioningService struct {
	db       *database.DB
	tenants  *repository.TenantRepository
	users    *repository.UserRepository
	audit    *repository.AuditRepository
	schemas  *repository.SchemaManager
	identity *identity.Client
	cache    *cache.TenantCache
	events   *events.LifecycleEventPublisher
	logger   *logger.Logger
}

// NewProvisioningService creates the orchestrator. The identity client may
// be nil (validation skipped); cache and events are always non-nil wrappers
// that degrade to no-ops.
func NewProvisioningService(
	db *database.DB,
	tenants *repository.TenantRepository,
	users *repository.UserRepository,
	audit *repository.AuditRepository,
	schemas *repository.SchemaManager,
	identityClient *identity.Client,
	tenantCache *cache.TenantCache,
	lifecycle *events.LifecycleEventPublisher,
	log *logger.Logger,
) *ProvisioningService {
	return &ProvisioningService{
		db:       db,
		tenants:  tenants,
		users:    users,
		audit:    audit,
		schemas:  schemas,
		identity: identityClient,
		cache:    tenantCache,
		events:   lifecycle,
		logger:   log.WithComponent("provisioning"),
	}
}

// ProvisionInput carries everything needed to create a trial tenant
type ProvisionInput struct {
	ExternalOrgID  string
	ExternalUserID string
	OrgName        string
	Slug           string
	Tier           string
	OwnerEmail     string
	OwnerFirstName string
	OwnerLastName  string
}

// ProvisionResult is the outcome of a provisioning call
type ProvisionResult struct {
	Tenant         *domain.Tenant
	Owner          *domain.User
	AlreadyExisted bool
}

// ProvisionTenant atomically creates tenant + schema + owner user + audit
// entry. Idempotent on ExternalOrgID: if the organization is already
// provisioned, the existing tenant and owner are returned with
// AlreadyExisted set and no side effects. Concurrent duplicate calls race
// at the insert; the loser detects the unique violation and falls back to
// the fetch-existing path.
func (s *ProvisioningService) ProvisionTenant(ctx context.Context, in ProvisionInput) (*ProvisionResult, error) {
	spec, err := domain.TierLimits(in.Tier)
	if err != nil {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, errors.Validation(map[string]string{"tier": err.Error()})
	}

	if err := domain.ValidateSlug(in.Slug); err != nil {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, errors.Validation(map[string]string{"slug": err.Error()})
	}

	// Fast idempotency path before any work.
	if existing, err := s.tenants.GetByExternalOrgID(ctx, in.ExternalOrgID); err == nil {
		return s.existingResult(ctx, existing)
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if err := s.validateIdentity(ctx, in); err != nil {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// Advisory slug precheck; the unique constraint is the authority.
	taken, err := s.tenants.SlugExists(ctx, in.Slug)
	if err != nil {
		return nil, err
	}
	if taken {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, errors.Conflict("a tenant with this slug already exists")
	}

	trialEnds := time.Now().UTC().Add(trialPeriod)
	tenant := &domain.Tenant{
		Slug:               in.Slug,
		Name:               in.OrgName,
		SchemaName:         domain.SchemaNameForSlug(in.Slug),
		ExternalOrgID:      in.ExternalOrgID,
		SubscriptionTier:   in.Tier,
		SubscriptionStatus: domain.StatusTrial,
		TrialEndsAt:        &trialEnds,
		MaxUsers:           spec.MaxUsers,
		MaxEntities:        spec.MaxEntities,
		Features:           spec.Features,
	}

	var owner *domain.User
	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.tenants.CreateTx(ctx, tx, tenant); err != nil {
			return err
		}
		if err := s.schemas.CreateTenantSchemaTx(ctx, tx, tenant.SchemaName); err != nil {
			return err
		}

		owner, err = s.createOwnerTx(ctx, tx, tenant.ID, in)
		if err != nil {
			return err
		}

		return s.audit.AppendTx(ctx, tx, &domain.AuditLogEntry{
			TenantID:     tenant.ID,
			UserID:       &owner.ID,
			Action:       domain.AuditTenantCreated,
			ResourceType: "tenant",
			ResourceID:   tenant.ID,
			Metadata: domain.Metadata{
				"slug":        tenant.Slug,
				"schema_name": tenant.SchemaName,
				"tier":        tenant.SubscriptionTier,
			},
		})
	})

	if txErr != nil {
		// A concurrent call won the insert race: converge on its result.
		if database.IsUniqueViolation(txErr, "external_org") {
			existing, err := s.tenants.GetByExternalOrgID(ctx, in.ExternalOrgID)
			if err != nil {
				return nil, err
			}
			return s.existingResult(ctx, existing)
		}
		if database.IsUniqueViolation(txErr, "slug") || database.IsUniqueViolation(txErr, "schema_name") {
			metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
			return nil, errors.Conflict("a tenant with this slug already exists")
		}
		if database.IsUniqueViolation(txErr, "external_user") {
			metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
			return nil, errors.Conflict("user already belongs to another tenant")
		}

		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(txErr).Str("external_org_id", in.ExternalOrgID).Msg("provisioning transaction failed")
		// No tenant row exists after the rollback, so the entry carries the
		// external org ID in metadata instead of a tenant ID.
		s.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
			Action:       domain.AuditProvisionFailed,
			ResourceType: "tenant",
			ResourceID:   in.Slug,
			Metadata: domain.Metadata{
				"external_org_id": in.ExternalOrgID,
				"error":           txErr.Error(),
			},
		})

		if appErr, ok := txErr.(*errors.AppError); ok && appErr.StatusCode < 500 {
			return nil, appErr
		}
		return nil, errors.Internal("provisioning failed")
	}

	s.cache.Invalidate(ctx, tenant.ExternalOrgID)
	s.events.TenantCreated(ctx, tenant, owner)
	metrics.ProvisioningTotal.WithLabelValues("created").Inc()

	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("slug", tenant.Slug).
		Str("schema", tenant.SchemaName).
		Msg("tenant provisioned")

	return &ProvisionResult{Tenant: tenant, Owner: owner}, nil
}

// createOwnerTx inserts or adopts the owner user inside the provisioning
// transaction. An existing detached user is attached as owner; a user
// already attached elsewhere is a conflict.
func (s *ProvisioningService) createOwnerTx(ctx context.Context, tx *sqlx.Tx, tenantID string, in ProvisionInput) (*domain.User, error) {
	existing, err := s.users.GetByExternalUserIDTx(ctx, tx, in.ExternalUserID)
	if err == nil {
		if existing.BelongsTo(tenantID) {
			return existing, nil
		}
		if !existing.Detached() {
			return nil, errors.Conflict("user already belongs to another tenant")
		}
		if err := s.users.AttachTx(ctx, tx, existing.ID, tenantID, domain.RoleOwner); err != nil {
			return nil, err
		}
		existing.TenantID = &tenantID
		existing.Role = domain.RoleOwner
		return existing, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	owner := &domain.User{
		ExternalUserID: in.ExternalUserID,
		Email:          in.OwnerEmail,
		FirstName:      in.OwnerFirstName,
		LastName:       in.OwnerLastName,
		Role:           domain.RoleOwner,
		TenantID:       &tenantID,
	}
	if err := s.users.CreateTx(ctx, tx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// existingResult resolves the idempotent "already provisioned" outcome
func (s *ProvisioningService) existingResult(ctx context.Context, t *domain.Tenant) (*ProvisionResult, error) {
	if t.IsDeleted() {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, errors.Gone("tenant has been archived")
	}

	owner, err := s.users.GetOwner(ctx, t.ID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	metrics.ProvisioningTotal.WithLabelValues("already_existed").Inc()
	return &ProvisionResult{Tenant: t, Owner: owner, AlreadyExisted: true}, nil
}

// validateIdentity confirms the org and user exist at the identity provider.
// Skipped when no client is configured.
func (s *ProvisioningService) validateIdentity(ctx context.Context, in ProvisionInput) error {
	if s.identity == nil {
		return nil
	}

	if _, err := s.identity.GetOrganization(ctx, in.ExternalOrgID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.BadRequest("unknown organization")
		}
		return err
	}
	if _, err := s.identity.GetUser(ctx, in.ExternalUserID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.BadRequest("unknown user")
		}
		return err
	}
	return nil
}

// SlugAvailability is the advisory result of a slug check. The caller must
// still tolerate a conflict at creation time.
type SlugAvailability struct {
	Slug        string   `json:"slug"`
	Valid       bool     `json:"valid"`
	Available   bool     `json:"available"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// CheckSlugAvailability validates the slug format and, when the slug is
// taken, offers up to three verified-available alternatives.
func (s *ProvisioningService) CheckSlugAvailability(ctx context.Context, slug string) (*SlugAvailability, error) {
	result := &SlugAvailability{Slug: slug}

	if err := domain.ValidateSlug(slug); err != nil {
		result.Reason = err.Error()
		return result, nil
	}
	result.Valid = true

	taken, err := s.tenants.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !taken {
		result.Available = true
		return result, nil
	}

	result.Reason = "slug is already taken"
	result.Suggestions = s.suggestSlugs(ctx, slug)
	return result, nil
}

// suggestSlugs tries numeric suffixes first, then the current year
func (s *ProvisioningService) suggestSlugs(ctx context.Context, base string) []string {
	candidates := []string{
		fmt.Sprintf("%s-2", base),
		fmt.Sprintf("%s-3", base),
		fmt.Sprintf("%s-4", base),
		fmt.Sprintf("%s-%d", base, time.Now().Year()),
	}

	var suggestions []string
	for _, candidate := range candidates {
		if len(suggestions) == 3 {
			break
		}
		if domain.ValidateSlug(candidate) != nil {
			continue
		}
		taken, err := s.tenants.SlugExists(ctx, candidate)
		if err != nil || taken {
			continue
		}
		suggestions = append(suggestions, candidate)
	}
	return suggestions
}
