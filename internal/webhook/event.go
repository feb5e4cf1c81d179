package webhook

import "encoding/json"

// Identity-provider event types
const (
	EventOrganizationCreated = "organization.created"
	EventOrganizationUpdated = "organization.updated"
	EventOrganizationDeleted = "organization.deleted"
	EventMembershipCreated   = "organizationMembership.created"
	EventMembershipDeleted   = "organizationMembership.deleted"
)

// Event is the outer envelope of an identity-provider delivery
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OrganizationData is the payload of organization.* events
type OrganizationData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedBy string `json:"created_by"`
	PublicMetadata struct {
		Tier string `json:"tier"`
	} `json:"public_metadata"`
}

// MembershipData is the payload of organizationMembership.* events
type MembershipData struct {
	Organization struct {
		ID string `json:"id"`
	} `json:"organization"`
	PublicUserData struct {
		UserID     string `json:"user_id"`
		Identifier string `json:"identifier"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
	} `json:"public_user_data"`
	Role string `json:"role"`
}
