package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/middleware"
	"github.com/capliquify/capliquify-backend/internal/tenancy/service"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

// UserHandler serves membership mutation routes
type UserHandler struct {
	svc    *service.ProvisioningService
	logger *logger.Logger
}

// NewUserHandler creates the user HTTP handler
func NewUserHandler(svc *service.ProvisioningService, log *logger.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: log.WithComponent("user-handler")}
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=viewer member admin"`
}

// ChangeRole handles PATCH /api/v1/users/{id}/role. The owner role can
// never be assigned here; that path exists only in provisioning.
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if targetID == "" {
		httputil.Error(w, errors.BadRequest("user id is required"))
		return
	}

	var req changeRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	t, ok := middleware.CurrentTenant(r.Context())
	if !ok {
		httputil.Error(w, errors.Internal("tenant context not resolved"))
		return
	}
	actor, ok := middleware.CurrentMember(r.Context())
	if !ok {
		httputil.Error(w, errors.Forbidden("caller has no membership in this tenant"))
		return
	}

	updated, err := h.svc.ChangeUserRole(r.Context(), t.ID, actor.ID, actor.Role, targetID, domain.Role(req.Role))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, updated)
}
