package progress

import (
	"context"
	"errors"
	"time"
)

// ErrEncode marks failures to serialize a snapshot. These indicate a defect
// rather than an environmental problem and are logged at error level.
var ErrEncode = errors.New("encode snapshot")

// Sink consumes published snapshots. Implementations must honor ctx deadlines
// and must not retain or mutate the snapshot after returning.
type Sink interface {
	Publish(ctx context.Context, snap Snapshot) error
	Close(ctx context.Context) error
}

// SnapshotPublisher accepts snapshots from a Tracker. Publisher satisfies this
// interface so the tracker stays agnostic about how snapshots are delivered.
type SnapshotPublisher interface {
	// Submit hands off snap without blocking and reports whether it was accepted.
	Submit(snap Snapshot) bool
	// SubmitTransition hands off a phase-change snapshot that must not be
	// dropped. It may wait a bounded time for an in-flight publish.
	SubmitTransition(snap Snapshot) bool
	// PublishSync waits for any in-flight publish and publishes snap on the
	// caller's goroutine.
	PublishSync(ctx context.Context, snap Snapshot) error
}

// Observer receives publish outcomes, typically to feed metrics.
type Observer interface {
	ObservePublish(result string, dur time.Duration)
	ObserveDrop()
}

// Publish results reported to an Observer.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type noopObserver struct{}

func (noopObserver) ObservePublish(string, time.Duration) {}

func (noopObserver) ObserveDrop() {}
