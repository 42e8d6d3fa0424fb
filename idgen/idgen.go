// Package idgen generates the identifiers used by kworkstat: visit handles
// and log correlation IDs.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 v7 UUIDs. They sort by creation
// time, so visit IDs read in the order the visits were opened.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen ("vis_...").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator behind New.
var Default Generator = Prefixed("vis_", UUIDv7())

// Request generates request correlation IDs for the HTTP and MCP surfaces.
var Request Generator = Prefixed("req_", UUIDv7())

// New produces an ID using Default.
func New() string {
	return Default()
}

// Parse validates a bare or prefixed UUID and returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	if i := len(s) - 36; i > 0 {
		raw = s[i:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
