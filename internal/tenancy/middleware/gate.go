package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/tenant"
)

// EntityCounter reports the current entity count of a kind for a tenant
type EntityCounter func(ctx context.Context, t *domain.Tenant) (int, error)

// RequireFeature rejects requests for tenants whose plan does not include
// the named feature. The error names the minimum tier that does.
func RequireFeature(feature, upgradeURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := CurrentTenant(r.Context())
			if !ok {
				httputil.Error(w, errors.Internal("tenant context not resolved"))
				return
			}

			if !t.Features.Enabled(feature) {
				details := map[string]string{"feature": feature}
				if minTier := domain.FeatureMinTier(feature); minTier != "" {
					details["required_tier"] = minTier
				}
				if upgradeURL != "" {
					details["upgrade_url"] = upgradeURL
				}
				httputil.Error(w, errors.Forbidden("feature not available on current plan").WithDetails(details))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects callers whose resolved role is not in the allowed set.
// Roles outside the set are refused regardless of rank, so owner must be
// listed explicitly where owner access is intended.
func RequireRole(allowed ...domain.Role) func(http.Handler) http.Handler {
	allowSet := make(map[domain.Role]struct{}, len(allowed))
	names := make([]string, 0, len(allowed))
	for _, role := range allowed {
		allowSet[role] = struct{}{}
		names = append(names, string(role))
	}
	allowedList := strings.Join(names, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := domain.Role(tenant.Role(r.Context()))
			if _, ok := allowSet[role]; !ok {
				httputil.Error(w, errors.Forbidden("insufficient role").
					WithDetails(map[string]string{"allowed_roles": allowedList}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireWrite rejects mutating verbs when the request is marked read-only.
// Safe verbs always pass.
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		if tenant.IsReadOnly(r.Context()) {
			httputil.Error(w, errors.Forbidden("account is past due, access is read-only"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CheckEntityLimit rejects creation requests once the tenant has reached its
// plan's entity quota. Enterprise tenants are unlimited and skip the count.
func CheckEntityLimit(counter EntityCounter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := CurrentTenant(r.Context())
			if !ok {
				httputil.Error(w, errors.Internal("tenant context not resolved"))
				return
			}

			if !t.HasUnlimitedEntities() {
				current, err := counter(r.Context(), t)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				if current >= t.MaxEntities {
					httputil.Error(w, errors.Forbidden("tenant has reached its entity limit").
						WithDetails(map[string]string{
							"current": strconv.Itoa(current),
							"limit":   strconv.Itoa(t.MaxEntities),
						}))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
