package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps objects as files below a base directory. It is meant for
// development setups without a bucket.
type LocalStorage struct {
	baseDir string
	baseURL string
}

// NewLocalStorage creates baseDir if needed.
func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if baseURL == "" {
		abs, err := filepath.Abs(baseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
		}
		baseURL = "file://" + filepath.ToSlash(abs)
	}

	return &LocalStorage{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("object key %q escapes the storage directory", key)
	}
	return filepath.Join(l.baseDir, filepath.FromSlash(key)), nil
}

// Upload writes data to the file backing key.
func (l *LocalStorage) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fullPath, err := l.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return l.baseURL + "/" + key, nil
}

// Delete removes the files backing keys. Missing files count as deleted.
func (l *LocalStorage) Delete(ctx context.Context, keys ...string) DeleteResult {
	result := DeleteResult{Deleted: []string{}, Errors: []DeleteError{}}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, DeleteError{Key: key, Error: err.Error()})
			continue
		}

		fullPath, err := l.path(key)
		if err != nil {
			result.Errors = append(result.Errors, DeleteError{Key: key, Error: err.Error()})
			continue
		}

		if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, DeleteError{Key: key, Error: err.Error()})
			continue
		}
		result.Deleted = append(result.Deleted, key)
	}

	return result
}
