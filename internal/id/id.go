// Package id generates identifiers for runs and requests.
package id

import (
	"github.com/google/uuid"
)

// NewRunID returns a time-ordered UUIDv7 so run rows and objects sort by
// start time. It falls back to a random UUIDv4 if the v7 generator fails.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewRequestID returns a random identifier for an HTTP request.
func NewRequestID() string {
	return uuid.NewString()
}
