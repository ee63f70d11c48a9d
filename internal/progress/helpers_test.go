package progress

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 28, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePublisher records every accepted snapshot in publish order.
type fakePublisher struct {
	published []Snapshot
	syncCalls   int
	transitions int
	busy        bool
	syncErr     error
}

func (f *fakePublisher) Submit(snap Snapshot) bool {
	if f.busy {
		return false
	}
	f.published = append(f.published, snap)
	return true
}

func (f *fakePublisher) SubmitTransition(snap Snapshot) bool {
	f.transitions++
	f.published = append(f.published, snap)
	return true
}

func (f *fakePublisher) PublishSync(_ context.Context, snap Snapshot) error {
	f.syncCalls++
	f.published = append(f.published, snap)
	return f.syncErr
}

func (f *fakePublisher) last() Snapshot {
	return f.published[len(f.published)-1]
}

// recordingSink stores snapshots and optionally blocks each publish until the
// gate channel is released.
type recordingSink struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	snaps   []Snapshot
	closed  bool
	err     error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{started: make(chan struct{}, 16)}
}

func newGatedSink() *recordingSink {
	s := newRecordingSink()
	s.gate = make(chan struct{})
	return s
}

func (s *recordingSink) Publish(ctx context.Context, snap Snapshot) error {
	s.started <- struct{}{}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snaps...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
	dropped int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{results: map[string]int{}}
}

func (o *countingObserver) ObservePublish(result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[result]++
}

func (o *countingObserver) ObserveDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) Results(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[result]
}

func (o *countingObserver) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
