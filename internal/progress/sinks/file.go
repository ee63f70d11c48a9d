package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/progress"
)

const statusFileMode = 0o644

// fileOps holds the filesystem calls used by the atomic write so tests can
// inject failures.
type fileOps struct {
	createTemp func(dir, pattern string) (*os.File, error)
	rename     func(oldpath, newpath string) error
}

var osFileOps = fileOps{
	createTemp: os.CreateTemp,
	rename:     os.Rename,
}

// FileSink keeps a status file at a fixed destination in sync with the latest
// snapshot. Readers of the destination always see a complete document.
type FileSink struct {
	path   string
	ops    fileOps
	logger *zap.Logger
}

// NewFileSink binds a sink to dir/filename. The directory is created if it
// does not exist yet.
func NewFileSink(dir, filename string, logger *zap.Logger) (*FileSink, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("status filename is required")
	}
	if filepath.Base(filename) != filename {
		return nil, fmt.Errorf("status filename %q must not contain a directory", filename)
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create status dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{
		path:   filepath.Join(dir, filename),
		ops:    osFileOps,
		logger: logger,
	}, nil
}

// Path returns the destination of the status file.
func (s *FileSink) Path() string {
	return s.path
}

// Publish atomically replaces the status file with snap.
func (s *FileSink) Publish(ctx context.Context, snap progress.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if err := writeFileAtomic(snap, s.path, s.ops); err != nil {
		return err
	}
	s.logger.Debug("status file written",
		zap.String("path", s.path),
		zap.String("status", string(snap.Phase)),
		zap.Uint64("iteration", snap.CurrentIteration),
	)
	return nil
}

// Close implements the Sink interface; the last status file is intentionally
// left on disk.
func (s *FileSink) Close(context.Context) error {
	return nil
}

// WriteFileAtomic serializes snap and swaps it into destination. The bytes go
// to a temporary file in the same directory which is synced and then renamed
// over destination, so the previous content survives any failure.
func WriteFileAtomic(snap progress.Snapshot, destination string) error {
	return writeFileAtomic(snap, destination, osFileOps)
}

func writeFileAtomic(snap progress.Snapshot, destination string, ops fileOps) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", progress.ErrEncode, err)
	}
	data = append(data, '\n')

	dir, name := filepath.Split(destination)
	if dir == "" {
		dir = "."
	}
	tmp, err := ops.createTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}
	// #nosec G302 -- the status file is meant to be read by other processes.
	if err := os.Chmod(tmpPath, statusFileMode); err != nil {
		return fmt.Errorf("chmod temp status file: %w", err)
	}
	if err := ops.rename(tmpPath, destination); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	committed = true
	return nil
}
