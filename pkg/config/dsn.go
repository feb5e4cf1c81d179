package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// ParsedDatabaseURL holds the components of a 12-factor style database URL.
// Options carries any extra query parameters (statement_timeout and the
// like) so they survive the round trip into a libpq DSN.
type ParsedDatabaseURL struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Options  map[string]string
}

// ParseDatabaseURL parses a postgres:// or postgresql:// connection URL.
func ParseDatabaseURL(rawURL string) (*ParsedDatabaseURL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	u, err := url.Parse(strings.Replace(rawURL, "postgresql://", "postgres://", 1))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" {
		return nil, fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	parsed := &ParsedDatabaseURL{
		Host:     u.Hostname(),
		Port:     defaultPostgresPort,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
		Options:  make(map[string]string),
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
		parsed.Port = port
	}

	if u.User != nil {
		parsed.User = u.User.Username()
		parsed.Password, _ = u.User.Password()
	}

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "sslmode" {
			parsed.SSLMode = values[0]
			continue
		}
		parsed.Options[key] = values[0]
	}

	return parsed, nil
}

// ToDSN renders a libpq key=value DSN. The session pool appends its own
// search_path parameter per schema, so the base DSN must never carry one.
// Extra options are emitted in sorted order so the DSN is deterministic.
func (p *ParsedDatabaseURL) ToDSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)

	keys := make([]string, 0, len(p.Options))
	for key := range p.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		dsn += fmt.Sprintf(" %s=%s", key, p.Options[key])
	}
	return dsn
}

// ToURL renders the components back as a connection URL
func (p *ParsedDatabaseURL) ToURL() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, url.QueryEscape(p.Password), p.Host, p.Port, p.Database, sslMode,
	)
}

// Redacted returns a loggable connection target with the password masked
func (p *ParsedDatabaseURL) Redacted() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s", p.User, p.Host, p.Port, p.Database)
}

// RedactedTarget returns a loggable form of the configured database target
func (c *DatabaseConfig) RedactedTarget() string {
	if c.URL != "" {
		if parsed, err := ParseDatabaseURL(c.URL); err == nil {
			return parsed.Redacted()
		}
	}
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}
