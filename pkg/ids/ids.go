// Package ids provides opaque identifier generation shared across the gateway.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for sessions, tool calls,
// and approval requests.
func New() string {
	return uuid.NewString()
}
