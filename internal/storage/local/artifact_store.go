// Package local stores training artifacts on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode      = 0o750
	artifactMode = 0o644
)

// ArtifactStore writes exported artifacts beneath a base directory.
type ArtifactStore struct {
	baseDir string
}

// New returns a store rooted at baseDir, creating the directory if needed.
func New(baseDir string) (*ArtifactStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, dirMode); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %s is not a directory", baseDir)
	}
	return &ArtifactStore{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *ArtifactStore) Dir() string { return s.baseDir }

// Put writes data to name under the base directory and returns its file:// URI.
// The artifact is staged in a temp file and renamed into place, so readers
// never observe a partial export.
func (s *ArtifactStore) Put(ctx context.Context, name string, data io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleanBase := filepath.Clean(s.baseDir)
	fullPath := filepath.Clean(filepath.Join(cleanBase, name))
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %q escapes %s", name, s.baseDir)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Chmod(artifactMode); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("chmod artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", name, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", fmt.Errorf("replace artifact %s: %w", name, err)
	}
	committed = true
	return "file://" + fullPath, nil
}
