package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Tracker errors.
var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrInvalidTotal      = errors.New("total iterations must be > 0")
)

const (
	defaultCadence      = 10
	defaultFinalTimeout = 5 * time.Second
)

// TrackerConfig carries the run-level inputs of a Tracker.
//   - Enabled: when false NewTracker returns a nil Tracker and nothing is published.
//   - TotalIterations: fixed iteration budget of the run.
//   - ExportPath: output directory reported in every snapshot.
//   - Cadence: publish every Cadence iterations (default 10).
//   - FinalPublishTimeout: bound on the synchronous terminal publish (default 5s).
//   - RunID: optional identifier attached to log lines.
type TrackerConfig struct {
	Enabled             bool
	TotalIterations     uint64
	ExportPath          string
	Cadence             uint64
	FinalPublishTimeout time.Duration
	RunID               string
}

// Tracker owns the live Snapshot of a run and decides when to publish it. It
// runs on the training loop's goroutine and is not safe for concurrent use.
// A nil *Tracker is valid and every method on it is a no-op.
type Tracker struct {
	cfg         TrackerConfig
	publisher   SnapshotPublisher
	clock       Clock
	logger      *zap.Logger
	snap        Snapshot
	start       time.Time
	lastStamp   time.Time
	lastCadence uint64
}

// NewTracker creates the run's snapshot in the starting phase and submits it.
// It returns (nil, nil) when cfg.Enabled is false.
func NewTracker(cfg TrackerConfig, publisher SnapshotPublisher, clock Clock, logger *zap.Logger) (*Tracker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.TotalIterations == 0 {
		return nil, ErrInvalidTotal
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Cadence == 0 {
		cfg.Cadence = defaultCadence
	}
	if cfg.FinalPublishTimeout <= 0 {
		cfg.FinalPublishTimeout = defaultFinalTimeout
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	t := &Tracker{
		cfg:       cfg,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		start:     clock.Now().UTC(),
		snap: Snapshot{
			TotalIterations: cfg.TotalIterations,
			ExportPath:      cfg.ExportPath,
			Phase:           PhaseStarting,
		},
	}
	t.submitTransition()
	return t, nil
}

// Begin moves the run from starting to training.
func (t *Tracker) Begin() error {
	if t == nil {
		return nil
	}
	if t.snap.Phase != PhaseStarting {
		return fmt.Errorf("%w: begin while %s", ErrInvalidTransition, t.snap.Phase)
	}
	if err := t.transition(PhaseTraining); err != nil {
		return err
	}
	t.submitTransition()
	return nil
}

// Step records a completed iteration. The iteration is clamped to the total
// and never moves backwards. A publish is submitted whenever a multiple of
// the cadence is reached or crossed.
func (t *Tracker) Step(iteration uint64) error {
	if t == nil {
		return nil
	}
	if t.snap.Phase != PhaseTraining {
		return fmt.Errorf("%w: step while %s", ErrInvalidTransition, t.snap.Phase)
	}
	if iteration > t.snap.TotalIterations {
		iteration = t.snap.TotalIterations
	}
	if iteration < t.snap.CurrentIteration {
		t.logger.Debug("ignoring regressing iteration",
			zap.Uint64("iteration", iteration),
			zap.Uint64("current", t.snap.CurrentIteration),
		)
		return nil
	}
	t.setIteration(iteration)
	if iteration/t.cfg.Cadence > t.lastCadence/t.cfg.Cadence {
		t.lastCadence = iteration
		t.submit()
	}
	return nil
}

// SetSplatCount records the current model complexity. It takes effect with
// the next publish.
func (t *Tracker) SetSplatCount(n uint64) {
	if t == nil || t.snap.Phase.Terminal() {
		return
	}
	t.snap.CurrentSplatCount = &n
}

// BeginEvaluation moves the run from training to evaluating.
func (t *Tracker) BeginEvaluation() error {
	if t == nil {
		return nil
	}
	if err := t.transition(PhaseEvaluating); err != nil {
		return err
	}
	t.submitTransition()
	return nil
}

// EndEvaluation records the evaluation metrics and returns to training.
func (t *Tracker) EndEvaluation(psnr, ssim float64) error {
	if t == nil {
		return nil
	}
	if t.snap.Phase != PhaseEvaluating {
		return fmt.Errorf("%w: end evaluation while %s", ErrInvalidTransition, t.snap.Phase)
	}
	if err := t.transition(PhaseTraining); err != nil {
		return err
	}
	t.snap.LastEvalPSNR = &psnr
	t.snap.LastEvalSSIM = &ssim
	t.submitTransition()
	return nil
}

// BeginExport moves the run from training to exporting.
func (t *Tracker) BeginExport() error {
	if t == nil {
		return nil
	}
	if err := t.transition(PhaseExporting); err != nil {
		return err
	}
	t.submitTransition()
	return nil
}

// EndExport records the produced artifact name and returns to training.
func (t *Tracker) EndExport(artifact string) error {
	if t == nil {
		return nil
	}
	if t.snap.Phase != PhaseExporting {
		return fmt.Errorf("%w: end export while %s", ErrInvalidTransition, t.snap.Phase)
	}
	if err := t.transition(PhaseTraining); err != nil {
		return err
	}
	t.snap.CurrentExportFile = &artifact
	t.submitTransition()
	return nil
}

// Complete marks the run finished and publishes the final snapshot
// synchronously so it cannot be dropped. Publish failures are only logged.
func (t *Tracker) Complete(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.transition(PhaseCompleted); err != nil {
		return err
	}
	t.setIteration(t.snap.TotalIterations)
	t.publishFinal(ctx)
	return nil
}

// Fail records an unrecoverable training failure, makes one best-effort
// publish, and returns cause unchanged so the caller can propagate it.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	if t == nil {
		return cause
	}
	if err := t.transition(PhaseError); err != nil {
		t.logger.Debug("failure reported after terminal phase", zap.Error(cause))
		return cause
	}
	t.logger.Error("training failed", zap.Error(cause), zap.Uint64("iteration", t.snap.CurrentIteration))
	t.publishFinal(ctx)
	return cause
}

// Snapshot returns a copy of the current in-memory snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	return t.snap.Clone()
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	if t == nil {
		return ""
	}
	return t.snap.Phase
}

func (t *Tracker) transition(to Phase) error {
	from := t.snap.Phase
	if !allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.snap.Phase = to
	t.logger.Debug("phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func allowed(from, to Phase) bool {
	switch to {
	case PhaseTraining:
		return from == PhaseStarting || from == PhaseEvaluating || from == PhaseExporting
	case PhaseEvaluating, PhaseExporting:
		return from == PhaseTraining
	case PhaseCompleted:
		return from == PhaseTraining || from == PhaseEvaluating || from == PhaseExporting
	case PhaseError:
		return !from.Terminal()
	default:
		return false
	}
}

func (t *Tracker) setIteration(iteration uint64) {
	t.snap.CurrentIteration = iteration
	t.snap.ProgressPercentage = Percentage(iteration, t.snap.TotalIterations)
}

// stamp refreshes the time-derived fields. LastUpdated is bumped when the
// clock has not advanced so consecutive publishes stay strictly ordered.
func (t *Tracker) stamp() {
	now := t.clock.Now().UTC()
	if !now.After(t.lastStamp) {
		now = t.lastStamp.Add(time.Nanosecond)
	}
	t.lastStamp = now
	elapsed := now.Sub(t.start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	t.snap.ElapsedSeconds = elapsed
	t.snap.ProgressPercentage = Percentage(t.snap.CurrentIteration, t.snap.TotalIterations)
	if remaining, ok := EstimateRemaining(elapsed, t.snap.CurrentIteration, t.snap.TotalIterations); ok {
		t.snap.EstimatedRemainingSeconds = &remaining
	} else {
		t.snap.EstimatedRemainingSeconds = nil
	}
	t.snap.LastUpdated = now
}

// submit hands a cadence snapshot to the publisher; it may be dropped.
func (t *Tracker) submit() {
	t.stamp()
	t.publisher.Submit(t.snap.Clone())
}

// submitTransition hands off a phase-change snapshot, which is never dropped.
func (t *Tracker) submitTransition() {
	t.stamp()
	t.publisher.SubmitTransition(t.snap.Clone())
}

func (t *Tracker) publishFinal(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.FinalPublishTimeout)
	defer cancel()
	t.stamp()
	if err := t.publisher.PublishSync(ctx, t.snap.Clone()); err != nil {
		t.logger.Warn("final status publish failed", zap.String("status", string(t.snap.Phase)), zap.Error(err))
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
