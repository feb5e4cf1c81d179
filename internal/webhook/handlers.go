package webhook

import (
	"context"
	"encoding/json"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/service"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

// RegisterDefaultHandlers wires the identity-provider lifecycle events to
// the provisioning service. Every handler is idempotent: replayed
// deliveries converge on the same directory state.
func RegisterDefaultHandlers(p *Processor, svc *service.ProvisioningService, log *logger.Logger) {
	h := &lifecycleHandlers{svc: svc, logger: log.WithComponent("webhook-handlers")}

	p.Register(EventOrganizationCreated, h.organizationCreated)
	p.Register(EventOrganizationUpdated, h.organizationUpdated)
	p.Register(EventOrganizationDeleted, h.organizationDeleted)
	p.Register(EventMembershipCreated, h.membershipCreated)
	p.Register(EventMembershipDeleted, h.membershipDeleted)
}

type lifecycleHandlers struct {
	svc    *service.ProvisioningService
	logger *logger.Logger
}

func (h *lifecycleHandlers) organizationCreated(ctx context.Context, data json.RawMessage) error {
	var org OrganizationData
	if err := json.Unmarshal(data, &org); err != nil {
		return err
	}

	tier := org.PublicMetadata.Tier
	if tier == "" {
		tier = domain.TierStarter
	}

	result, err := h.svc.ProvisionTenant(ctx, service.ProvisionInput{
		ExternalOrgID:  org.ID,
		ExternalUserID: org.CreatedBy,
		OrgName:        org.Name,
		Slug:           org.Slug,
		Tier:           tier,
	})
	if err != nil {
		return h.dropPermanent(err, "provisioning rejected", org.ID)
	}

	if result.AlreadyExisted {
		h.logger.Debug().Str("external_org_id", org.ID).Msg("organization already provisioned")
	}
	return nil
}

func (h *lifecycleHandlers) organizationUpdated(ctx context.Context, data json.RawMessage) error {
	var org OrganizationData
	if err := json.Unmarshal(data, &org); err != nil {
		return err
	}

	err := h.svc.UpdateOrganization(ctx, org.ID, org.Name, org.Slug, org.PublicMetadata.Tier)
	if errors.Is(err, errors.ErrNotFound) {
		// Update for an org we never provisioned; nothing to sync.
		h.logger.Warn().Str("external_org_id", org.ID).Msg("update for unknown organization")
		return nil
	}
	return h.dropPermanent(err, "organization update rejected", org.ID)
}

func (h *lifecycleHandlers) organizationDeleted(ctx context.Context, data json.RawMessage) error {
	var org OrganizationData
	if err := json.Unmarshal(data, &org); err != nil {
		return err
	}
	return h.svc.ArchiveTenant(ctx, org.ID)
}

func (h *lifecycleHandlers) membershipCreated(ctx context.Context, data json.RawMessage) error {
	var m MembershipData
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	tenant, err := h.svc.TenantByExternalOrgID(ctx, m.Organization.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			h.logger.Warn().Str("external_org_id", m.Organization.ID).Msg("membership for unknown organization")
			return nil
		}
		return err
	}

	_, err = h.svc.CreateUserInTenant(ctx, tenant.ID, service.MembershipInput{
		ExternalUserID: m.PublicUserData.UserID,
		Email:          m.PublicUserData.Identifier,
		FirstName:      m.PublicUserData.FirstName,
		LastName:       m.PublicUserData.LastName,
		Role:           domain.RoleFromExternal(m.Role),
	})
	return h.dropPermanent(err, "membership rejected", m.Organization.ID)
}

func (h *lifecycleHandlers) membershipDeleted(ctx context.Context, data json.RawMessage) error {
	var m MembershipData
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return h.svc.DetachUser(ctx, m.PublicUserData.UserID)
}

// dropPermanent swallows client-class failures: the sender would retry a
// delivery that can never succeed (conflicting slug, archived tenant,
// over-limit tenant). Retryable failures pass through.
func (h *lifecycleHandlers) dropPermanent(err error, msg, orgID string) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode < 500 {
		h.logger.Warn().Err(err).Str("external_org_id", orgID).Msg(msg)
		return nil
	}
	return err
}
