package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Phase is the high-level activity of the training loop.
type Phase string

// Supported phases. Completed and Error are terminal.
const (
	PhaseStarting   Phase = "starting"
	PhaseTraining   Phase = "training"
	PhaseEvaluating Phase = "evaluating"
	PhaseExporting  Phase = "exporting"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Terminal reports whether no further transitions are allowed from p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseStarting, PhaseTraining, PhaseEvaluating, PhaseExporting, PhaseCompleted, PhaseError:
		return true
	default:
		return false
	}
}

// Snapshot is the complete record of training progress at one point in time.
// Optional fields are nil until their triggering event and are replaced, never
// mutated, so a shallow copy already shares nothing that changes later.
type Snapshot struct {
	CurrentIteration          uint64
	TotalIterations           uint64
	ProgressPercentage        float64
	ElapsedSeconds            float64
	EstimatedRemainingSeconds *float64
	CurrentSplatCount         *uint64
	LastEvalPSNR              *float64
	LastEvalSSIM              *float64
	ExportPath                string
	CurrentExportFile         *string
	Phase                     Phase
	LastUpdated               time.Time
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.EstimatedRemainingSeconds = clonePtr(s.EstimatedRemainingSeconds)
	out.CurrentSplatCount = clonePtr(s.CurrentSplatCount)
	out.LastEvalPSNR = clonePtr(s.LastEvalPSNR)
	out.LastEvalSSIM = clonePtr(s.LastEvalSSIM)
	out.CurrentExportFile = clonePtr(s.CurrentExportFile)
	return out
}

// Validate performs coarse checks on a snapshot before it is published or
// after it is read back by an external consumer.
func (s Snapshot) Validate() error {
	if s.TotalIterations == 0 {
		return errors.New("total iterations must be > 0")
	}
	if s.CurrentIteration > s.TotalIterations {
		return fmt.Errorf("current iteration %d exceeds total %d", s.CurrentIteration, s.TotalIterations)
	}
	if s.ProgressPercentage < 0 || s.ProgressPercentage > 100 || math.IsNaN(s.ProgressPercentage) {
		return fmt.Errorf("progress percentage %v out of range", s.ProgressPercentage)
	}
	if s.ElapsedSeconds < 0 {
		return errors.New("elapsed seconds must be >= 0")
	}
	if s.EstimatedRemainingSeconds != nil && *s.EstimatedRemainingSeconds < 0 {
		return errors.New("estimated remaining seconds must be >= 0")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.LastUpdated.IsZero() {
		return errors.New("last updated is required")
	}
	return nil
}

// Percentage computes the clamped completion percentage rounded to one decimal.
func Percentage(current, total uint64) float64 {
	if total == 0 {
		return 0
	}
	pct := 100 * float64(current) / float64(total)
	pct = math.Max(0, math.Min(100, pct))
	return math.Round(pct*10) / 10
}

// EstimateRemaining extrapolates the remaining time from the average rate so
// far. ok is false when no iteration has completed yet.
func EstimateRemaining(elapsed float64, current, total uint64) (remaining float64, ok bool) {
	if current == 0 {
		return 0, false
	}
	if current >= total {
		return 0, true
	}
	remaining = elapsed / float64(current) * float64(total-current)
	if remaining < 0 || math.IsNaN(remaining) || math.IsInf(remaining, 0) {
		return 0, false
	}
	return remaining, true
}

// wireSnapshot is the on-disk layout consumed by external readers.
type wireSnapshot struct {
	CurrentIteration          uint64   `json:"current_iteration"`
	TotalIterations           uint64   `json:"total_iterations"`
	ProgressPercentage        float64  `json:"progress_percentage"`
	ElapsedTimeSeconds        float64  `json:"elapsed_time_seconds"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
	CurrentSplatCount         *uint64  `json:"current_splat_count,omitempty"`
	LastEvalPSNR              *float64 `json:"last_eval_psnr,omitempty"`
	LastEvalSSIM              *float64 `json:"last_eval_ssim,omitempty"`
	ExportPath                string   `json:"export_path"`
	CurrentExportFile         *string  `json:"current_export_file,omitempty"`
	Status                    Phase    `json:"status"`
	LastUpdated               string   `json:"last_updated"`
}

// MarshalJSON encodes the snapshot using the external field names.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{
		CurrentIteration:          s.CurrentIteration,
		TotalIterations:           s.TotalIterations,
		ProgressPercentage:        math.Round(s.ProgressPercentage*10) / 10,
		ElapsedTimeSeconds:        s.ElapsedSeconds,
		EstimatedRemainingSeconds: s.EstimatedRemainingSeconds,
		CurrentSplatCount:         s.CurrentSplatCount,
		LastEvalPSNR:              s.LastEvalPSNR,
		LastEvalSSIM:              s.LastEvalSSIM,
		ExportPath:                s.ExportPath,
		CurrentExportFile:         s.CurrentExportFile,
		Status:                    s.Phase,
		LastUpdated:               s.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes the external representation.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.LastUpdated)
	if err != nil {
		return fmt.Errorf("parse last_updated: %w", err)
	}
	*s = Snapshot{
		CurrentIteration:          w.CurrentIteration,
		TotalIterations:           w.TotalIterations,
		ProgressPercentage:        w.ProgressPercentage,
		ElapsedSeconds:            w.ElapsedTimeSeconds,
		EstimatedRemainingSeconds: w.EstimatedRemainingSeconds,
		CurrentSplatCount:         w.CurrentSplatCount,
		LastEvalPSNR:              w.LastEvalPSNR,
		LastEvalSSIM:              w.LastEvalSSIM,
		ExportPath:                w.ExportPath,
		CurrentExportFile:         w.CurrentExportFile,
		Phase:                     w.Status,
		LastUpdated:               ts.UTC(),
	}
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
