// Package uuid mints run identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// NewRunID returns a time-ordered UUIDv7 string so runs sort by start time in
// downstream tables. It falls back to a random v4 id if the clock source fails.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
