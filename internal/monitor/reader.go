package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/training-status/internal/progress"
)

// ErrInvalidStatus marks documents that decode but fail validation.
var ErrInvalidStatus = errors.New("invalid status document")

// ReadFile reads and validates the status file at path. A missing file is
// reported with an error wrapping os.ErrNotExist.
func ReadFile(path string) (progress.Snapshot, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator-supplied
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("open status file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	snap, err := Decode(f)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Decode parses one status document from r and validates it.
func Decode(r io.Reader) (progress.Snapshot, error) {
	var snap progress.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return progress.Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return progress.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	return snap, nil
}
