package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrPublisherClosed is returned by PublishSync once Close has begun.
var ErrPublisherClosed = errors.New("publisher closed")

// PublisherConfig controls how snapshots reach the sinks.
//   - SinkTimeout: per-sink timeout for a single publish (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - Observer: optional hook for publish outcomes.
//   - Tracer: optional tracer; defaults to the global otel provider.
//   - TransitionWait: how long SubmitTransition waits for an in-flight
//     publish before parking its snapshot (default 250ms).
type PublisherConfig struct {
	SinkTimeout    time.Duration
	TransitionWait time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
	Observer    Observer
	Tracer      trace.Tracer
}

const (
	tracerName         = "github.com/JakeFAU/training-status/internal/progress"
	defaultSinkTimeout = 10 * time.Second
	defaultTransWait   = 250 * time.Millisecond
	dropLogInterval    = 5 * time.Second
)

// Publisher delivers snapshots to its sinks on one background goroutine. At
// most one publish is in flight. A cadence Submit that finds one in flight is
// dropped, since the next cadence point carries fresher data. Phase changes
// go through SubmitTransition and are never dropped: when the wait runs out
// the snapshot is parked in a single pending slot, replaced by any newer
// submit, and published as soon as the in-flight write finishes.
type Publisher struct {
	cfg         PublisherConfig
	sinks       []Sink
	slot        chan struct{}
	jobs        chan Snapshot
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	observer    Observer
	tracer      trace.Tracer
	dropLimiter *rate.Limiter
	dropped     atomic.Int64
	dropTotal   atomic.Int64
	closed      atomic.Bool

	pendingMu sync.Mutex
	pending   *Snapshot

	closeOnce sync.Once
	closeCtx  context.Context
	closeErr  error
}

// NewPublisher starts the background goroutine for the supplied sinks. The
// returned Publisher is immediately ready to accept snapshots.
func NewPublisher(cfg PublisherConfig, sinks ...Sink) *Publisher {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.TransitionWait <= 0 {
		cfg.TransitionWait = defaultTransWait
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	p := &Publisher{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		slot:        make(chan struct{}, 1),
		jobs:        make(chan Snapshot, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		observer:    observer,
		tracer:      tracer,
		dropLimiter: rate.NewLimiter(rate.Every(dropLogInterval), 1),
	}
	go p.run()
	return p
}

// Submit hands a copy of snap to the background goroutine. It never blocks;
// if a publish is already in flight the snapshot is dropped and a
// rate-limited warning is logged.
func (p *Publisher) Submit(snap Snapshot) bool {
	if p == nil || p.closed.Load() {
		return false
	}
	select {
	case p.slot <- struct{}{}:
	default:
		p.drop()
		return false
	}
	p.takePending()
	// Holding the slot guarantees jobs is empty and not yet closed.
	p.jobs <- snap.Clone()
	return true
}

// SubmitTransition hands off a phase-change snapshot. It waits up to
// TransitionWait for the in-flight publish; after that the snapshot is parked
// and published by the background goroutine once the slot frees up. It
// returns false only when the publisher is closed.
func (p *Publisher) SubmitTransition(snap Snapshot) bool {
	if p == nil || p.closed.Load() {
		return false
	}
	snap = snap.Clone()
	timer := time.NewTimer(p.cfg.TransitionWait)
	defer timer.Stop()
	select {
	case p.slot <- struct{}{}:
		p.takePending()
		p.jobs <- snap
		return true
	case <-p.stopCh:
		return false
	case <-timer.C:
	}
	p.pendingMu.Lock()
	p.pending = &snap
	p.pendingMu.Unlock()
	p.kick()
	return true
}

// PublishSync waits until no publish is in flight, then publishes snap on the
// caller's goroutine. It returns the combined sink errors.
func (p *Publisher) PublishSync(ctx context.Context, snap Snapshot) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	select {
	case p.slot <- struct{}{}:
	case <-p.stopCh:
		return ErrPublisherClosed
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight publish: %w", ctx.Err())
	}
	defer p.release()
	p.takePending()
	return p.publish(snap.Clone())
}

// Dropped returns the number of snapshots discarded since the publisher started.
func (p *Publisher) Dropped() int64 {
	if p == nil {
		return 0
	}
	return p.dropTotal.Load()
}

// Close waits for the in-flight publish, stops the background goroutine, and
// closes the sinks. It is safe to call multiple times.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeCtx = ctx
		close(p.stopCh)
		go func() {
			// The slot is never released again, so no sender can reach jobs.
			p.slot <- struct{}{}
			close(p.jobs)
		}()
	})
	select {
	case <-p.doneCh:
		return p.closeErr
	case <-ctx.Done():
		return fmt.Errorf("status publisher close wait: %w", ctx.Err())
	}
}

func (p *Publisher) run() {
	defer close(p.doneCh)
	for snap := range p.jobs {
		if err := p.publish(snap); err != nil {
			p.logger.Debug("scheduled status publish failed; next cadence point will retry", zap.Error(err))
		}
		p.release()
	}
	// Close holds the slot now, so a parked snapshot can only be flushed here.
	if snap, ok := p.takePending(); ok {
		if err := p.publish(snap); err != nil {
			p.logger.Debug("pending status publish failed during close", zap.Error(err))
		}
	}
	p.closeErr = p.closeSinks()
}

// release frees the slot and hands over any snapshot parked meanwhile.
func (p *Publisher) release() {
	<-p.slot
	p.kick()
}

// kick moves the pending snapshot to the background goroutine if the slot is
// free. A busy slot is fine: its holder kicks again on release.
func (p *Publisher) kick() {
	select {
	case p.slot <- struct{}{}:
	default:
		return
	}
	snap, ok := p.takePending()
	if !ok {
		<-p.slot
		return
	}
	p.jobs <- snap
}

func (p *Publisher) takePending() (Snapshot, bool) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.pending == nil {
		return Snapshot{}, false
	}
	snap := *p.pending
	p.pending = nil
	return snap, true
}

func (p *Publisher) publish(snap Snapshot) error {
	start := time.Now()
	base, span := p.tracer.Start(p.cfg.BaseContext, "status.publish",
		trace.WithAttributes(
			attribute.String("status", string(snap.Phase)),
			attribute.Int64("iteration", int64(snap.CurrentIteration)), //nolint:gosec // iterations fit in int64
			attribute.Int("sinks", len(p.sinks)),
		),
	)
	defer span.End()
	var errs error
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(base, p.cfg.SinkTimeout)
		err := sink.Publish(ctx, snap)
		cancel()
		if err == nil {
			continue
		}
		span.RecordError(err)
		fields := []zap.Field{
			zap.Error(err),
			zap.String("status", string(snap.Phase)),
			zap.Uint64("iteration", snap.CurrentIteration),
		}
		if errors.Is(err, ErrEncode) {
			p.logger.Error("status snapshot could not be encoded; publish skipped", fields...)
		} else {
			p.logger.Warn("status sink publish failed", fields...)
		}
		errs = multierr.Append(errs, err)
	}
	result := ResultSuccess
	if errs != nil {
		result = ResultFailure
		span.SetStatus(codes.Error, "status sink publish failed")
	}
	p.observer.ObservePublish(result, time.Since(start))
	return errs
}

func (p *Publisher) drop() {
	p.observer.ObserveDrop()
	p.dropTotal.Add(1)
	p.dropped.Add(1)
	if p.dropLimiter.Allow() {
		count := p.dropped.Swap(0)
		p.logger.Warn("status snapshots dropped while a publish was in flight", zap.Int64("dropped", count))
	}
}

// closeSinks runs after Close may already have given up on its ctx, so the
// sinks get a fresh deadline instead of an expired one.
func (p *Publisher) closeSinks() error {
	base := p.closeCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), p.cfg.SinkTimeout)
	defer cancel()
	var errs error
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			p.logger.Warn("status sink close failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
