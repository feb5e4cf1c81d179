package service

import (
	"context"
	"strconv"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// MembershipInput carries the identity-provider data for a user joining a
// tenant.
type MembershipInput struct {
	ExternalUserID string
	Email          string
	FirstName      string
	LastName       string
	Role           domain.Role
}

// CreateUserInTenant attaches a user to a tenant, creating the directory
// record if absent. Idempotent when the user already belongs to the tenant;
// a user attached to a different tenant is a conflict. The tenant's
// maxUsers limit is enforced for new attachments.
func (s *ProvisioningService) CreateUserInTenant(ctx context.Context, tenantID string, in MembershipInput) (*domain.User, error) {
	if !in.Role.Valid() {
		return nil, errors.Validation(map[string]string{"role": "unknown role"})
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.IsDeleted() {
		return nil, errors.Gone("tenant has been archived")
	}

	existing, err := s.users.GetByExternalUserID(ctx, in.ExternalUserID)
	if err == nil {
		if existing.BelongsTo(tenantID) {
			return existing, nil
		}
		if !existing.Detached() {
			return nil, errors.Conflict("user already belongs to another tenant")
		}
		if err := s.checkUserLimit(ctx, tenant); err != nil {
			return nil, err
		}
		if err := s.users.Attach(ctx, existing.ID, tenantID, in.Role); err != nil {
			// A concurrent attach claimed the user between the read and the
			// guarded update: re-read and converge.
			if errors.Is(err, errors.ErrConflict) {
				raced, rerr := s.users.GetByExternalUserID(ctx, in.ExternalUserID)
				if rerr != nil {
					return nil, rerr
				}
				if raced.BelongsTo(tenantID) {
					return raced, nil
				}
				return nil, errors.Conflict("user already belongs to another tenant")
			}
			return nil, err
		}
		existing.TenantID = &tenantID
		existing.Role = in.Role

		s.events.UserAttached(ctx, tenantID, existing)
		s.auditMembership(ctx, tenantID, existing, domain.AuditUserAttached)
		return existing, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if err := s.checkUserLimit(ctx, tenant); err != nil {
		return nil, err
	}

	user := &domain.User{
		ExternalUserID: in.ExternalUserID,
		Email:          in.Email,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Role:           in.Role,
		TenantID:       &tenantID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// A concurrent attach won the insert race: re-read and converge.
		if database.IsUniqueViolation(err, "external_user") {
			raced, rerr := s.users.GetByExternalUserID(ctx, in.ExternalUserID)
			if rerr != nil {
				return nil, rerr
			}
			if raced.BelongsTo(tenantID) {
				return raced, nil
			}
			return nil, errors.Conflict("user already belongs to another tenant")
		}
		return nil, errors.DataAccess(err, "failed to create user")
	}

	s.events.UserAttached(ctx, tenantID, user)
	s.auditMembership(ctx, tenantID, user, domain.AuditUserAttached)
	return user, nil
}

// TenantByExternalOrgID resolves the tenant for an identity-provider
// organization. Used by webhook handlers to scope membership events.
func (s *ProvisioningService) TenantByExternalOrgID(ctx context.Context, externalOrgID string) (*domain.Tenant, error) {
	return s.tenants.GetByExternalOrgID(ctx, externalOrgID)
}

// DetachUser clears a user's tenant membership. The directory record is
// kept. Detaching an already-detached user is a no-op.
func (s *ProvisioningService) DetachUser(ctx context.Context, externalUserID string) error {
	user, err := s.users.GetByExternalUserID(ctx, externalUserID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.Detached() {
		return nil
	}

	tenantID := *user.TenantID
	if err := s.users.Detach(ctx, user.ID); err != nil {
		return err
	}

	s.events.UserDetached(ctx, tenantID, user)
	s.auditMembership(ctx, tenantID, user, domain.AuditUserDetached)
	return nil
}

// ChangeUserRole applies the role-mutation rules and updates the target's
// role. Owner can never be assigned here.
func (s *ProvisioningService) ChangeUserRole(ctx context.Context, tenantID, actorUserID string, actorRole domain.Role, targetUserID string, newRole domain.Role) (*domain.User, error) {
	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	if !target.BelongsTo(tenantID) {
		return nil, errors.NotFound("user")
	}

	if err := domain.CanChangeRole(actorUserID, actorRole, target.ID, target.Role, newRole); err != nil {
		return nil, errors.Forbidden(err.Error())
	}

	oldRole := target.Role
	if err := s.users.UpdateRole(ctx, target.ID, newRole); err != nil {
		return nil, err
	}
	target.Role = newRole

	s.events.UserRoleChanged(ctx, tenantID, target, oldRole, newRole)
	s.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
		TenantID:     tenantID,
		UserID:       &actorUserID,
		Action:       domain.AuditUserRoleChanged,
		ResourceType: "user",
		ResourceID:   target.ID,
		Metadata: domain.Metadata{
			"old_role": string(oldRole),
			"new_role": string(newRole),
		},
	})
	return target, nil
}

// UpdateOrganization syncs the tenant's display name and subscription tier
// from the identity provider. Slug and schema name are immutable; a changed
// external slug is recorded in the audit metadata but never applied. A tier
// change re-applies the tier's limits and feature flags.
func (s *ProvisioningService) UpdateOrganization(ctx context.Context, externalOrgID, name, externalSlug, tier string) error {
	tenant, err := s.tenants.GetByExternalOrgID(ctx, externalOrgID)
	if err != nil {
		return err
	}
	if tenant.IsDeleted() {
		return errors.Gone("tenant has been archived")
	}

	fields := map[string]any{}
	auditMeta := domain.Metadata{"external_slug": externalSlug}

	if name != "" && name != tenant.Name {
		if err := s.tenants.UpdateName(ctx, tenant.ID, name); err != nil {
			return err
		}
		fields["name"] = name
		auditMeta["old_name"] = tenant.Name
		auditMeta["new_name"] = name
	}

	if tier != "" && tier != tenant.SubscriptionTier {
		spec, err := domain.TierLimits(tier)
		if err != nil {
			return errors.Validation(map[string]string{"tier": err.Error()})
		}
		if err := s.tenants.UpdateSubscription(ctx, tenant.ID, tier, tenant.SubscriptionStatus, spec); err != nil {
			return err
		}
		fields["tier"] = tier
		auditMeta["old_tier"] = tenant.SubscriptionTier
		auditMeta["new_tier"] = tier
	}

	if len(fields) == 0 {
		return nil
	}

	s.cache.Invalidate(ctx, externalOrgID)
	s.events.TenantUpdated(ctx, tenant, fields)
	s.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
		TenantID:     tenant.ID,
		Action:       domain.AuditTenantUpdated,
		ResourceType: "tenant",
		ResourceID:   tenant.ID,
		Metadata:     auditMeta,
	})
	return nil
}

// ArchiveTenant soft-deletes the tenant for an external organization. The
// schema and all rows are retained. Idempotent.
func (s *ProvisioningService) ArchiveTenant(ctx context.Context, externalOrgID string) error {
	tenant, err := s.tenants.GetByExternalOrgID(ctx, externalOrgID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}
	if tenant.IsDeleted() {
		return nil
	}

	if err := s.tenants.Archive(ctx, tenant.ID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, externalOrgID)
	s.events.TenantArchived(ctx, tenant)
	s.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
		TenantID:     tenant.ID,
		Action:       domain.AuditTenantArchived,
		ResourceType: "tenant",
		ResourceID:   tenant.ID,
		Metadata:     domain.Metadata{"slug": tenant.Slug},
	})
	return nil
}

func (s *ProvisioningService) checkUserLimit(ctx context.Context, tenant *domain.Tenant) error {
	count, err := s.users.CountByTenant(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if count >= tenant.MaxUsers {
		return errors.Forbidden("tenant has reached its user limit").
			WithDetails(map[string]string{
				"current": strconv.Itoa(count),
				"limit":   strconv.Itoa(tenant.MaxUsers),
			})
	}
	return nil
}

func (s *ProvisioningService) auditMembership(ctx context.Context, tenantID string, user *domain.User, action string) {
	s.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
		TenantID:     tenantID,
		UserID:       &user.ID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   user.ID,
		Metadata:     domain.Metadata{"external_user_id": user.ExternalUserID, "role": string(user.Role)},
	})
}
