package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	slugMinLength = 3
	slugMaxLength = 50
)

// slugRe: lowercase alphanumeric segments joined by single hyphens
var slugRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateSlug checks slug format: lowercase alphanumeric plus hyphen,
// 3-50 characters, no leading/trailing/consecutive hyphens.
func ValidateSlug(slug string) error {
	if len(slug) < slugMinLength {
		return fmt.Errorf("slug must be at least %d characters", slugMinLength)
	}
	if len(slug) > slugMaxLength {
		return fmt.Errorf("slug must be at most %d characters", slugMaxLength)
	}
	if !slugRe.MatchString(slug) {
		return fmt.Errorf("slug may only contain lowercase letters, digits and hyphens")
	}
	return nil
}

// SchemaNameForSlug derives the immutable schema name for a tenant slug.
// Hyphens become underscores so the result is a plain SQL identifier.
func SchemaNameForSlug(slug string) string {
	return "tenant_" + strings.ReplaceAll(slug, "-", "_")
}
