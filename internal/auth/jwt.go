// Package auth validates the session tokens minted by the identity
// provider. This service never issues tokens; it only parses and verifies
// them to learn which external org and user a request speaks for.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// SessionClaims are the claims carried by an identity-provider session
// token. ExternalOrgID and ExternalUserID feed the tenant context resolver.
type SessionClaims struct {
	jwt.RegisteredClaims
	ExternalUserID string `json:"external_user_id"`
	ExternalOrgID  string `json:"external_org_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
}

// Manager verifies session tokens
type Manager struct {
	config *config.AuthConfig
}

// NewManager creates a new token manager
func NewManager(cfg *config.AuthConfig) *Manager {
	return &Manager{config: cfg}
}

// ParseSessionToken validates a session token and returns its claims
func (m *Manager) ParseSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.TokenInvalid()
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(m.config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}
	if claims.ExternalUserID == "" || claims.ExternalOrgID == "" {
		return nil, errors.TokenInvalid()
	}

	return claims, nil
}
