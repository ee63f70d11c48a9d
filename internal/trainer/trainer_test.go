package trainer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/training-status/internal/monitor"
	"github.com/JakeFAU/training-status/internal/progress"
	"github.com/JakeFAU/training-status/internal/progress/sinks"
)

func baseConfig() Config {
	return Config{
		TotalIterations: 100,
		EvalEvery:       25,
		ExportEvery:     50,
		InitialSplats:   1000,
		MaxSplats:       50000,
		Seed:            7,
	}
}

// phaseSink keeps every phase it was handed, in order.
type phaseSink struct {
	mu     sync.Mutex
	phases []progress.Phase
}

func (s *phaseSink) Publish(_ context.Context, snap progress.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, snap.Phase)
	return nil
}

func (s *phaseSink) Close(context.Context) error { return nil }

func (s *phaseSink) seen(p progress.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.phases {
		if got == p {
			return true
		}
	}
	return false
}

type harness struct {
	dir     string
	file    *sinks.FileSink
	phases  *phaseSink
	pub     *progress.Publisher
	tracker *progress.Tracker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()
	file, err := sinks.NewFileSink(dir, "training_status.json", zaptest.NewLogger(t))
	require.NoError(t, err)
	phases := &phaseSink{}
	pub := progress.NewPublisher(progress.PublisherConfig{Logger: zaptest.NewLogger(t)}, file, phases)
	tracker, err := progress.NewTracker(progress.TrackerConfig{
		Enabled:         true,
		TotalIterations: cfg.TotalIterations,
		ExportPath:      dir,
		Cadence:         10,
	}, pub, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &harness{dir: dir, file: file, phases: phases, pub: pub, tracker: tracker}
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	require.NoError(t, h.pub.Close(context.Background()))
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	h := newHarness(t, cfg)
	tr, err := New(cfg, h.tracker, h.dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	h.close(t)

	assert.Equal(t, uint64(100), res.Iterations)
	assert.Equal(t, []string{"export_50.ply", "export_100.ply"}, res.Exports)
	assert.Greater(t, res.LastPSNR, 18.0)
	assert.LessOrEqual(t, res.LastSSIM, 1.0)
	assert.LessOrEqual(t, res.Splats, cfg.MaxSplats)
	assert.GreaterOrEqual(t, res.Splats, cfg.InitialSplats)

	for _, name := range res.Exports {
		data, err := os.ReadFile(filepath.Join(h.dir, name))
		require.NoError(t, err)
		assert.Contains(t, string(data), "end_header")
	}

	snap, err := monitor.ReadFile(h.file.Path())
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.Equal(t, uint64(100), snap.CurrentIteration)
	assert.InDelta(t, 100.0, snap.ProgressPercentage, 1e-9)
	require.NotNil(t, snap.LastEvalPSNR)
	assert.InDelta(t, res.LastPSNR, *snap.LastEvalPSNR, 1e-9)
	require.NotNil(t, snap.CurrentExportFile)
	assert.Equal(t, "export_100.ply", *snap.CurrentExportFile)
	require.NotNil(t, snap.CurrentSplatCount)
	assert.Equal(t, res.Splats, *snap.CurrentSplatCount)
	assert.True(t, h.phases.seen(progress.PhaseStarting))
}

func TestRunInjectedFailure(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.FailAt = 37
	h := newHarness(t, cfg)
	tr, err := New(cfg, h.tracker, h.dir, nil)
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.ErrorIs(t, err, ErrInjectedFailure)
	h.close(t)

	assert.Equal(t, uint64(36), res.Iterations)
	snap, err := monitor.ReadFile(h.file.Path())
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseError, snap.Phase)
	assert.Equal(t, uint64(36), snap.CurrentIteration)
	assert.Equal(t, progress.PhaseError, h.tracker.Phase())
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.TotalIterations = 100000
	cfg.StepDelay = time.Millisecond
	h := newHarness(t, cfg)
	tr, err := New(cfg, h.tracker, h.dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = tr.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	h.close(t)

	snap, err := monitor.ReadFile(h.file.Path())
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseError, snap.Phase, "the final publish must survive cancellation")
}

// TestRunWithoutTracker runs with status reporting disabled.
func TestRunWithoutTracker(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	tracker, err := progress.NewTracker(progress.TrackerConfig{Enabled: false}, nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, tracker)

	tr, err := New(baseConfig(), tracker, dir, nil)
	require.NoError(t, err)
	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Exports, 2)

	_, err = os.Stat(filepath.Join(dir, "training_status.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewRejectsZeroIterations(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestQualityIsDeterministicPerSeed(t *testing.T) {
	t.Parallel()

	a, err := New(baseConfig(), nil, t.TempDir(), nil)
	require.NoError(t, err)
	b, err := New(baseConfig(), nil, t.TempDir(), nil)
	require.NoError(t, err)
	pa, sa := a.quality(50)
	pb, sb := b.quality(50)
	assert.InDelta(t, pa, pb, 1e-12)
	assert.InDelta(t, sa, sb, 1e-12)

	early, _ := a.quality(1)
	late, _ := a.quality(100)
	assert.Less(t, early, late)
}

// TestRunExportDirUnusable reports the failure through the tracker.
func TestRunExportDirUnusable(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	h := newHarness(t, cfg)
	blocker := filepath.Join(h.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	tr, err := New(cfg, h.tracker, blocker, nil)
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	require.ErrorContains(t, err, "open export dir")
	h.close(t)

	assert.Equal(t, progress.PhaseError, h.tracker.Phase())
	assert.True(t, h.phases.seen(progress.PhaseError))
}
