package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/training-status/internal/progress"
)

// Format selects how a snapshot is rendered by Write.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or text)", s)
	}
}

// yamlSnapshot mirrors the JSON field names so both renderings agree.
type yamlSnapshot struct {
	CurrentIteration          uint64   `yaml:"current_iteration"`
	TotalIterations           uint64   `yaml:"total_iterations"`
	ProgressPercentage        float64  `yaml:"progress_percentage"`
	ElapsedTimeSeconds        float64  `yaml:"elapsed_time_seconds"`
	EstimatedRemainingSeconds *float64 `yaml:"estimated_remaining_seconds,omitempty"`
	CurrentSplatCount         *uint64  `yaml:"current_splat_count,omitempty"`
	LastEvalPSNR              *float64 `yaml:"last_eval_psnr,omitempty"`
	LastEvalSSIM              *float64 `yaml:"last_eval_ssim,omitempty"`
	ExportPath                string   `yaml:"export_path"`
	CurrentExportFile         *string  `yaml:"current_export_file,omitempty"`
	Status                    string   `yaml:"status"`
	LastUpdated               string   `yaml:"last_updated"`
}

// Write renders snap to w in the requested format.
func Write(w io.Writer, snap progress.Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toYAML(snap)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush yaml: %w", err)
		}
		return nil
	case FormatText:
		_, err := io.WriteString(w, Summary(snap)+"\n")
		if err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Summary renders a compact single-line description of snap.
func Summary(snap progress.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %d/%d (%.1f%%) elapsed %s",
		snap.Phase,
		snap.CurrentIteration,
		snap.TotalIterations,
		snap.ProgressPercentage,
		seconds(snap.ElapsedSeconds),
	)
	if snap.EstimatedRemainingSeconds != nil {
		fmt.Fprintf(&b, " eta %s", seconds(*snap.EstimatedRemainingSeconds))
	}
	if snap.CurrentSplatCount != nil {
		fmt.Fprintf(&b, " splats %d", *snap.CurrentSplatCount)
	}
	if snap.LastEvalPSNR != nil && snap.LastEvalSSIM != nil {
		fmt.Fprintf(&b, " psnr %.2f ssim %.4f", *snap.LastEvalPSNR, *snap.LastEvalSSIM)
	}
	if snap.CurrentExportFile != nil {
		fmt.Fprintf(&b, " export %s", *snap.CurrentExportFile)
	}
	return b.String()
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}

func toYAML(snap progress.Snapshot) yamlSnapshot {
	return yamlSnapshot{
		CurrentIteration:          snap.CurrentIteration,
		TotalIterations:           snap.TotalIterations,
		ProgressPercentage:        snap.ProgressPercentage,
		ElapsedTimeSeconds:        snap.ElapsedSeconds,
		EstimatedRemainingSeconds: snap.EstimatedRemainingSeconds,
		CurrentSplatCount:         snap.CurrentSplatCount,
		LastEvalPSNR:              snap.LastEvalPSNR,
		LastEvalSSIM:              snap.LastEvalSSIM,
		ExportPath:                snap.ExportPath,
		CurrentExportFile:         snap.CurrentExportFile,
		Status:                    string(snap.Phase),
		LastUpdated:               snap.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
}
