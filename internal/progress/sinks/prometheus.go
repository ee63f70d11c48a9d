package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/training-status/internal/progress"
)

var phases = []progress.Phase{
	progress.PhaseStarting,
	progress.PhaseTraining,
	progress.PhaseEvaluating,
	progress.PhaseExporting,
	progress.PhaseCompleted,
	progress.PhaseError,
}

// PrometheusSink mirrors the latest snapshot into gauges. It owns all of its
// collectors; the phase gauge is 1 for the current phase and 0 for the rest.
type PrometheusSink struct {
	iteration    prometheus.Gauge
	total        prometheus.Gauge
	percentage   prometheus.Gauge
	elapsed      prometheus.Gauge
	remaining    prometheus.Gauge
	splats       prometheus.Gauge
	psnr         prometheus.Gauge
	ssim         prometheus.Gauge
	phase        *prometheus.GaugeVec
	lastUpdated  prometheus.Gauge
	exportsTotal prometheus.Counter

	lastExport string
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_current_iteration",
			Help: "Last published training iteration.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_total_iterations",
			Help: "Iteration budget of the run.",
		}),
		percentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_progress_percentage",
			Help: "Completion percentage of the run.",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_elapsed_seconds",
			Help: "Wall time since the run started.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_estimated_remaining_seconds",
			Help: "Estimated time until the run finishes.",
		}),
		splats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_splat_count",
			Help: "Current number of splats in the model.",
		}),
		psnr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_last_eval_psnr",
			Help: "PSNR reported by the latest evaluation.",
		}),
		ssim: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_last_eval_ssim",
			Help: "SSIM reported by the latest evaluation.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "training_phase",
			Help: "Current training phase (1 for the active phase).",
		}, []string{"phase"}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "training_status_last_updated_timestamp_seconds",
			Help: "Unix time of the latest published snapshot.",
		}),
		exportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "training_exports_total",
			Help: "Distinct export artifacts observed.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.iteration,
		s.total,
		s.percentage,
		s.elapsed,
		s.remaining,
		s.splats,
		s.psnr,
		s.ssim,
		s.phase,
		s.lastUpdated,
		s.exportsTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register status collector: %w", err)
		}
	}
	return s, nil
}

// Publish updates the gauges from snap. It is called from the publisher's
// single goroutine only.
func (s *PrometheusSink) Publish(_ context.Context, snap progress.Snapshot) error {
	s.iteration.Set(float64(snap.CurrentIteration))
	s.total.Set(float64(snap.TotalIterations))
	s.percentage.Set(snap.ProgressPercentage)
	s.elapsed.Set(snap.ElapsedSeconds)
	if snap.EstimatedRemainingSeconds != nil {
		s.remaining.Set(*snap.EstimatedRemainingSeconds)
	}
	if snap.CurrentSplatCount != nil {
		s.splats.Set(float64(*snap.CurrentSplatCount))
	}
	if snap.LastEvalPSNR != nil {
		s.psnr.Set(*snap.LastEvalPSNR)
	}
	if snap.LastEvalSSIM != nil {
		s.ssim.Set(*snap.LastEvalSSIM)
	}
	for _, p := range phases {
		value := 0.0
		if p == snap.Phase {
			value = 1
		}
		s.phase.WithLabelValues(string(p)).Set(value)
	}
	if snap.CurrentExportFile != nil && *snap.CurrentExportFile != s.lastExport {
		s.lastExport = *snap.CurrentExportFile
		s.exportsTotal.Inc()
	}
	s.lastUpdated.Set(float64(snap.LastUpdated.UnixNano()) / 1e9)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
