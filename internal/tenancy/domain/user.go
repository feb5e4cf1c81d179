package domain

import (
	"fmt"
	"time"
)

// Role is a totally ordered membership role: viewer < member < admin < owner
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRanks = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank returns the role's position in the ordering. Unknown roles rank
// below viewer.
func (r Role) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return -1
}

// Valid reports whether the role is one of the known values
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// ParseRole converts a string to a Role, rejecting unknown values
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleFromExternal maps the identity provider's role taxonomy to ours.
// Unrecognized external roles map to member, the provider's default.
func RoleFromExternal(externalRole string) Role {
	switch externalRole {
	case "org:admin", "admin":
		return RoleAdmin
	case "org:member", "basic_member", "member":
		return RoleMember
	default:
		return RoleMember
	}
}

// CanChangeRole enforces the role-mutation rules:
//   - a principal may not modify their own role
//   - a principal may not modify a target whose rank is >= their own
//   - a principal may not assign a role at or above their own rank
//   - owner is never assignable here; it is produced only by the
//     provisioning and webhook paths
func CanChangeRole(actorID string, actorRole Role, targetID string, targetRole, newRole Role) error {
	if !newRole.Valid() {
		return fmt.Errorf("unknown role %q", newRole)
	}
	if newRole == RoleOwner {
		return fmt.Errorf("owner role cannot be assigned")
	}
	if actorID == targetID {
		return fmt.Errorf("cannot change own role")
	}
	if targetRole.Rank() >= actorRole.Rank() {
		return fmt.Errorf("cannot modify a user with equal or higher role")
	}
	if newRole.Rank() >= actorRole.Rank() {
		return fmt.Errorf("cannot assign a role at or above your own")
	}
	return nil
}

// User represents an identity known to the directory. TenantID is null when
// the user is detached from any tenant.
type User struct {
	ID             string     `json:"id" db:"id"`
	ExternalUserID string     `json:"external_user_id" db:"external_user_id"`
	Email          string     `json:"email" db:"email"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Role           Role       `json:"role" db:"role"`
	TenantID       *string    `json:"tenant_id,omitempty" db:"tenant_id"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName returns the user's display name
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	return u.FirstName + " " + u.LastName
}

// BelongsTo reports whether the user is attached to the given tenant
func (u *User) BelongsTo(tenantID string) bool {
	return u.TenantID != nil && *u.TenantID == tenantID
}

// Detached reports whether the user has no tenant membership
func (u *User) Detached() bool {
	return u.TenantID == nil
}
