// Package handler exposes the onboarding and tenant-facing HTTP routes.
package handler

import (
	"net/http"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/middleware"
	"github.com/capliquify/capliquify-backend/internal/tenancy/service"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/tenant"
)

// TenantHandler serves tenant onboarding and self-inspection routes
type TenantHandler struct {
	svc    *service.ProvisioningService
	logger *logger.Logger
}

// NewTenantHandler creates the tenant HTTP handler
func NewTenantHandler(svc *service.ProvisioningService, log *logger.Logger) *TenantHandler {
	return &TenantHandler{svc: svc, logger: log.WithComponent("tenant-handler")}
}

type createTenantRequest struct {
	ExternalOrgID  string `json:"external_org_id" validate:"required"`
	ExternalUserID string `json:"external_user_id" validate:"required"`
	OrgName        string `json:"org_name" validate:"required,min=2,max=100"`
	Slug           string `json:"slug" validate:"required"`
	Tier           string `json:"tier" validate:"required,oneof=starter professional enterprise"`
	OwnerEmail     string `json:"owner_email" validate:"omitempty,email"`
	OwnerFirstName string `json:"owner_first_name" validate:"omitempty,max=100"`
	OwnerLastName  string `json:"owner_last_name" validate:"omitempty,max=100"`
}

type provisionResponse struct {
	Tenant *domain.TenantResponse `json:"tenant"`
	Owner  *domain.User           `json:"owner,omitempty"`
}

// Create handles POST /api/v1/tenants. Returns 201 when the tenant was
// created, 200 when the organization was already provisioned.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.svc.ProvisionTenant(r.Context(), service.ProvisionInput{
		ExternalOrgID:  req.ExternalOrgID,
		ExternalUserID: req.ExternalUserID,
		OrgName:        req.OrgName,
		Slug:           req.Slug,
		Tier:           req.Tier,
		OwnerEmail:     req.OwnerEmail,
		OwnerFirstName: req.OwnerFirstName,
		OwnerLastName:  req.OwnerLastName,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	body := provisionResponse{Tenant: result.Tenant.ToResponse(), Owner: result.Owner}
	if result.AlreadyExisted {
		httputil.JSON(w, http.StatusOK, body)
		return
	}
	httputil.JSON(w, http.StatusCreated, body)
}

// SlugAvailability handles GET /api/v1/tenants/slug-availability?slug=...
func (h *TenantHandler) SlugAvailability(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		httputil.Error(w, errors.BadRequest("slug query parameter is required"))
		return
	}

	result, err := h.svc.CheckSlugAvailability(r.Context(), slug)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

// Current handles GET /api/v1/tenant: the resolved tenant's own record
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request) {
	t, ok := middleware.CurrentTenant(r.Context())
	if !ok {
		httputil.Error(w, errors.Internal("tenant context not resolved"))
		return
	}

	body := t.ToResponse()
	body.Role = tenant.Role(r.Context())
	body.ReadOnly = tenant.IsReadOnly(r.Context())
	httputil.JSON(w, http.StatusOK, body)
}
