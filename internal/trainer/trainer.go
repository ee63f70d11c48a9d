// Package trainer runs a synthetic Gaussian-splatting training loop. It makes
// the same tracker calls a real optimizer would, which makes it useful for
// exercising status consumers without a GPU.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/progress"
	"github.com/JakeFAU/training-status/internal/storage/local"
)

// ErrInjectedFailure is returned when the run reaches Config.FailAt.
var ErrInjectedFailure = errors.New("injected training failure")

// Config shapes a synthetic run.
type Config struct {
	TotalIterations uint64
	StepDelay       time.Duration
	EvalEvery       uint64
	EvalDelay       time.Duration
	ExportEvery     uint64
	ExportDelay     time.Duration
	// FailAt aborts the run at this iteration; zero disables it.
	FailAt        uint64
	InitialSplats uint64
	MaxSplats     uint64
	Seed          int64
}

// Result summarizes a finished run.
type Result struct {
	Iterations uint64
	Exports    []string
	LastPSNR   float64
	LastSSIM   float64
	Splats     uint64
}

// Trainer drives one run. A nil tracker is allowed and simply disables status
// reporting.
type Trainer struct {
	cfg       Config
	tracker   *progress.Tracker
	exportDir string
	store     *local.ArtifactStore
	logger    *zap.Logger
	rng       *rand.Rand
}

// New validates cfg and returns a Trainer writing artifacts into exportDir.
func New(cfg Config, tracker *progress.Tracker, exportDir string, logger *zap.Logger) (*Trainer, error) {
	if cfg.TotalIterations == 0 {
		return nil, errors.New("total iterations must be > 0")
	}
	if cfg.MaxSplats < cfg.InitialSplats {
		cfg.MaxSplats = cfg.InitialSplats
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(cfg.Seed) //nolint:gosec // seed bits only
	return &Trainer{
		cfg:       cfg,
		tracker:   tracker,
		exportDir: exportDir,
		logger:    logger,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // synthetic metrics
	}, nil
}

// Run executes the loop until completion, an injected failure, or ctx
// cancellation. Failures are reported to the tracker before being returned.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	var res Result
	store, err := local.New(t.exportDir)
	if err != nil {
		return res, t.tracker.Fail(ctx, fmt.Errorf("open export dir: %w", err))
	}
	t.store = store
	if err := t.tracker.Begin(); err != nil {
		return res, err
	}
	t.logger.Info("training started", zap.Uint64("total_iterations", t.cfg.TotalIterations))

	for it := uint64(1); it <= t.cfg.TotalIterations; it++ {
		if err := sleep(ctx, t.cfg.StepDelay); err != nil {
			return res, t.abort(ctx, err)
		}
		if t.cfg.FailAt != 0 && it == t.cfg.FailAt {
			return res, t.tracker.Fail(ctx, fmt.Errorf("%w at iteration %d", ErrInjectedFailure, it))
		}

		res.Iterations = it
		res.Splats = t.splats(it)
		t.tracker.SetSplatCount(res.Splats)
		if err := t.tracker.Step(it); err != nil {
			return res, err
		}

		if t.cfg.EvalEvery != 0 && it%t.cfg.EvalEvery == 0 {
			if err := t.evaluate(ctx, it, &res); err != nil {
				return res, err
			}
		}
		if (t.cfg.ExportEvery != 0 && it%t.cfg.ExportEvery == 0) || it == t.cfg.TotalIterations {
			if err := t.export(ctx, it, &res); err != nil {
				return res, err
			}
		}
	}

	if err := t.tracker.Complete(ctx); err != nil {
		return res, err
	}
	t.logger.Info("training completed",
		zap.Uint64("iterations", res.Iterations),
		zap.Int("exports", len(res.Exports)),
		zap.Float64("psnr", res.LastPSNR),
	)
	return res, nil
}

func (t *Trainer) evaluate(ctx context.Context, it uint64, res *Result) error {
	if err := t.tracker.BeginEvaluation(); err != nil {
		return err
	}
	if err := sleep(ctx, t.cfg.EvalDelay); err != nil {
		return t.abort(ctx, err)
	}
	res.LastPSNR, res.LastSSIM = t.quality(it)
	t.logger.Debug("evaluation finished",
		zap.Uint64("iteration", it),
		zap.Float64("psnr", res.LastPSNR),
		zap.Float64("ssim", res.LastSSIM),
	)
	return t.tracker.EndEvaluation(res.LastPSNR, res.LastSSIM)
}

func (t *Trainer) export(ctx context.Context, it uint64, res *Result) error {
	if err := t.tracker.BeginExport(); err != nil {
		return err
	}
	if err := sleep(ctx, t.cfg.ExportDelay); err != nil {
		return t.abort(ctx, err)
	}
	name := fmt.Sprintf("export_%d.ply", it)
	uri, err := t.store.Put(ctx, name, plyHeader(res.Splats))
	if err != nil {
		return t.tracker.Fail(context.WithoutCancel(ctx), fmt.Errorf("write export: %w", err))
	}
	res.Exports = append(res.Exports, name)
	t.logger.Debug("export written", zap.String("uri", uri))
	return t.tracker.EndExport(name)
}

// abort reports a cancellation. The final publish must not inherit the
// canceled context or it would be skipped.
func (t *Trainer) abort(ctx context.Context, cause error) error {
	return t.tracker.Fail(context.WithoutCancel(ctx), fmt.Errorf("training interrupted: %w", cause))
}

// splats grows the model along a logistic curve from InitialSplats towards MaxSplats.
func (t *Trainer) splats(it uint64) uint64 {
	frac := float64(it) / float64(t.cfg.TotalIterations)
	growth := 1 / (1 + math.Exp(-10*(frac-0.3)))
	span := float64(t.cfg.MaxSplats - t.cfg.InitialSplats)
	return t.cfg.InitialSplats + uint64(span*growth)
}

// quality returns synthetic (psnr, ssim) values that improve with training.
func (t *Trainer) quality(it uint64) (float64, float64) {
	frac := float64(it) / float64(t.cfg.TotalIterations)
	curve := 1 - math.Exp(-3*frac)
	psnr := 18 + 14*curve + (t.rng.Float64()-0.5)*0.4
	ssim := 0.55 + 0.4*curve + (t.rng.Float64()-0.5)*0.01
	return math.Round(psnr*100) / 100, math.Min(1, math.Round(ssim*10000)/10000)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
