package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
)

type contextKey string

const claimsKey contextKey = "session_claims"

// Middleware authenticates requests via the Authorization bearer token and
// attaches the session claims to the request context.
func Middleware(manager *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.Error(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.Error(w, errors.Unauthorized("invalid authorization header"))
				return
			}

			claims, err := manager.ParseSessionToken(parts[1])
			if err != nil {
				httputil.Error(w, err)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = httputil.WithUserContext(ctx, claims.ExternalUserID, claims.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims attaches session claims to the context
func WithClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the session claims attached by Middleware
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*SessionClaims)
	return claims, ok
}
