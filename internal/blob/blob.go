package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"pdf-ocr-pipeline/internal/config"
)

// ErrNotFound is returned when no document is stored for a job.
var ErrNotFound = errors.New("document not found")

// ErrInvalidID is returned for job ids that could address a key outside the prefix.
var ErrInvalidID = errors.New("invalid job id")

// ContentType is the media type of every stored document.
const ContentType = "application/pdf"

// Store fetches and stores raw documents addressed by job id.
type Store interface {
	Get(ctx context.Context, jobID string) ([]byte, error)
	Put(ctx context.Context, jobID string, data []byte) error
}

// Key returns the object name for a job's document.
func Key(prefix, jobID string) string {
	return sanitizeKey(prefix + jobID + ".pdf")
}

// ValidateID rejects empty ids and ids carrying a path separator or "..".
func ValidateID(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, jobID)
	}
	return nil
}

// New picks the backend named in the config.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(cfg.BlobBackend) {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.BlobLocalDir, cfg.BlobPrefix), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	return key
}
