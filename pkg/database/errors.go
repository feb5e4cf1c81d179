package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/capliquify/capliquify-backend/pkg/errors"
)

// PostgreSQL error codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqNotNullViolation    = "23502"
	pqCheckViolation      = "23514"
)

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally on a specific constraint. Provisioning relies on this to fold
// insert races into the idempotent fetch-existing path.
func IsUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.Contains(pqErr.Constraint, constraint)
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	case pqForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist")

	case pqNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	case pqCheckViolation:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	default:
		return nil
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "slug"):
		return "a tenant with this slug already exists"
	case strings.Contains(constraint, "external_org"):
		return "a tenant is already provisioned for this organization"
	case strings.Contains(constraint, "external_user"):
		return "a user with this identity already exists"
	case strings.Contains(constraint, "schema_name"):
		return "a tenant with this schema already exists"
	default:
		return "a record with these values already exists"
	}
}
