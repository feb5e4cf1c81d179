// Package identity is the client for the external identity provider's
// management API. Provisioning uses it to validate that the org and user
// referenced by an onboarding call actually exist.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// Organization is the provider's organization record
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// User is the provider's user record
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Client calls the identity provider's management API
type Client struct {
	http *resty.Client
}

// New creates an identity client. Returns nil when no base URL is
// configured; callers treat a nil client as "validation disabled".
func New(cfg *config.IdentityConfig) *Client {
	if cfg.BaseURL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &Client{http: http}
}

// GetOrganization fetches an organization by its provider ID
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&org).
		Get(fmt.Sprintf("/v1/organizations/%s", orgID))
	if err != nil {
		return nil, errors.DataAccess(err, "identity provider unreachable")
	}
	if resp.StatusCode() == 404 {
		return nil, errors.NotFound("organization")
	}
	if resp.IsError() {
		return nil, errors.Internal(fmt.Sprintf("identity provider returned %d", resp.StatusCode()))
	}

	return &org, nil
}

// GetUser fetches a user by their provider ID
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&user).
		Get(fmt.Sprintf("/v1/users/%s", userID))
	if err != nil {
		return nil, errors.DataAccess(err, "identity provider unreachable")
	}
	if resp.StatusCode() == 404 {
		return nil, errors.NotFound("user")
	}
	if resp.IsError() {
		return nil, errors.Internal(fmt.Sprintf("identity provider returned %d", resp.StatusCode()))
	}

	return &user, nil
}
