// Package middleware resolves the tenant context for authenticated requests
// and enforces the plan and role gates that sit on top of it.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/capliquify/capliquify-backend/internal/auth"
	"github.com/capliquify/capliquify-backend/internal/tenancy/cache"
	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/tenant"
)

type contextKey string

const (
	currentTenantKey contextKey = "current_tenant"
	currentUserKey   contextKey = "current_user"
)

// Resolver maps the session's external organization ID to a tenant record
// and attaches tenant identity, schema name, role and read-only flag to the
// request context. Every tenant-scoped route sits behind it.
type Resolver struct {
	tenants    *repository.TenantRepository
	users      *repository.UserRepository
	cache      *cache.TenantCache
	upgradeURL string
	logger     *logger.Logger
}

// NewResolver creates the tenant context resolver
func NewResolver(
	tenants *repository.TenantRepository,
	users *repository.UserRepository,
	tenantCache *cache.TenantCache,
	upgradeURL string,
	log *logger.Logger,
) *Resolver {
	return &Resolver{
		tenants:    tenants,
		users:      users,
		cache:      tenantCache,
		upgradeURL: upgradeURL,
		logger:     log.WithComponent("tenant-resolver"),
	}
}

// Middleware resolves and validates the caller's tenant. Requests for
// archived tenants get 410, expired trials and suspended or cancelled
// subscriptions get 403, past_due tenants proceed with the read-only flag
// set.
func (res *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				httputil.Error(w, errors.Unauthorized("missing session"))
				return
			}

			t, err := res.lookup(r.Context(), claims.ExternalOrgID)
			if err != nil {
				httputil.Error(w, err)
				return
			}

			if err := res.checkLifecycle(t); err != nil {
				httputil.Error(w, err)
				return
			}

			member, role := res.resolveMembership(r.Context(), t, claims.ExternalUserID)

			ctx := tenant.WithTenantContext(r.Context(), t.ID, t.Slug, t.SchemaName)
			ctx = tenant.WithRole(ctx, string(role))
			ctx = tenant.WithReadOnly(ctx, t.SubscriptionStatus == domain.StatusPastDue)
			ctx = context.WithValue(ctx, currentTenantKey, t)
			if member != nil {
				ctx = context.WithValue(ctx, currentUserKey, member)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookup resolves the tenant through the cache, falling back to the
// directory. Cache failures never fail the request.
func (res *Resolver) lookup(ctx context.Context, externalOrgID string) (*domain.Tenant, error) {
	if t, ok := res.cache.Get(ctx, externalOrgID); ok {
		return t, nil
	}

	t, err := res.tenants.GetByExternalOrgID(ctx, externalOrgID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NotFound("tenant")
		}
		return nil, err
	}

	res.cache.Set(ctx, t)
	return t, nil
}

func (res *Resolver) checkLifecycle(t *domain.Tenant) error {
	if t.IsDeleted() {
		return errors.Gone("tenant has been archived")
	}

	switch t.SubscriptionStatus {
	case domain.StatusArchived:
		// Refused even when the deletion stamp is missing from the record.
		return errors.Gone("tenant has been archived")
	case domain.StatusSuspended:
		return errors.Forbidden("subscription is suspended")
	case domain.StatusCancelled:
		return errors.Forbidden("subscription has been cancelled")
	case domain.StatusTrial:
		if t.IsTrialExpired(time.Now().UTC()) {
			return errors.Expired("trial period has ended", res.upgradeURL)
		}
	}
	return nil
}

// resolveMembership looks up the caller's membership row. Callers without a
// membership in this tenant act as viewers and carry no member record.
func (res *Resolver) resolveMembership(ctx context.Context, t *domain.Tenant, externalUserID string) (*domain.User, domain.Role) {
	user, err := res.users.GetByExternalUserID(ctx, externalUserID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			res.logger.Warn().Err(err).
				Str("external_user_id", externalUserID).
				Msg("role lookup failed, defaulting to viewer")
		}
		return nil, domain.RoleViewer
	}
	if !user.BelongsTo(t.ID) {
		return nil, domain.RoleViewer
	}

	if err := res.users.UpdateLastLogin(ctx, user.ID); err != nil {
		res.logger.Debug().Err(err).Str("user_id", user.ID).Msg("last login stamp failed")
	}
	return user, user.Role
}

// CurrentTenant returns the full tenant record attached by the resolver
func CurrentTenant(ctx context.Context) (*domain.Tenant, bool) {
	t, ok := ctx.Value(currentTenantKey).(*domain.Tenant)
	return t, ok
}

// CurrentMember returns the caller's directory user record, when the
// resolver found a membership in the current tenant.
func CurrentMember(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(currentUserKey).(*domain.User)
	return u, ok
}
