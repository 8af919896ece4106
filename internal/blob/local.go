package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps documents on the local filesystem. Useful for development
// and single-host deployments.
type LocalStore struct {
	baseDir string
	prefix  string
}

func NewLocalStore(baseDir, prefix string) *LocalStore {
	return &LocalStore{baseDir: baseDir, prefix: prefix}
}

func (l *LocalStore) path(jobID string) (string, error) {
	if err := ValidateID(jobID); err != nil {
		return "", err
	}
	path := filepath.Join(l.baseDir, filepath.FromSlash(Key(l.prefix, jobID)))
	rel, err := filepath.Rel(l.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidID, jobID, l.baseDir)
	}
	return path, nil
}

func (l *LocalStore) Get(_ context.Context, jobID string) ([]byte, error) {
	path, err := l.path(jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNotFound, path)
	}
	return data, nil
}

func (l *LocalStore) Put(_ context.Context, jobID string, data []byte) error {
	path, err := l.path(jobID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
