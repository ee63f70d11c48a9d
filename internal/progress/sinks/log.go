package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/progress"
)

// LogSink emits structured logs for each published snapshot. It is useful
// during development or when the status file is not being watched.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Publish logs the snapshot using structured fields.
func (s *LogSink) Publish(_ context.Context, snap progress.Snapshot) error {
	fields := []zap.Field{
		zap.String("status", string(snap.Phase)),
		zap.Uint64("iteration", snap.CurrentIteration),
		zap.Uint64("total_iterations", snap.TotalIterations),
		zap.Float64("progress_percentage", snap.ProgressPercentage),
		zap.Float64("elapsed_seconds", snap.ElapsedSeconds),
	}
	if snap.EstimatedRemainingSeconds != nil {
		fields = append(fields, zap.Float64("eta_seconds", *snap.EstimatedRemainingSeconds))
	}
	if snap.CurrentSplatCount != nil {
		fields = append(fields, zap.Uint64("splats", *snap.CurrentSplatCount))
	}
	if snap.LastEvalPSNR != nil && snap.LastEvalSSIM != nil {
		fields = append(fields, zap.Float64("psnr", *snap.LastEvalPSNR), zap.Float64("ssim", *snap.LastEvalSSIM))
	}
	if snap.CurrentExportFile != nil {
		fields = append(fields, zap.String("export_file", *snap.CurrentExportFile))
	}
	s.logger.Info("training status", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
