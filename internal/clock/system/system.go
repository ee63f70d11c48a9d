// Package system provides the wall clock used to stamp status snapshots.
package system

import (
	"time"

	"github.com/JakeFAU/training-status/internal/progress"
)

var _ progress.Clock = (*Clock)(nil)

// Clock implements progress.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. The monotonic reading is kept so elapsed
// durations are immune to wall clock steps.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
