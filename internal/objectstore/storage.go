// Package objectstore stores photo payloads in a bucket-like backend.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyKey is returned when an upload is attempted without a key.
var ErrEmptyKey = errors.New("object key is empty")

// Storage is the object storage used for photo files.
type Storage interface {
	// Upload stores data under key and returns the public URL of the object.
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)

	// Delete removes every key it can and reports the per-key outcome.
	Delete(ctx context.Context, keys ...string) DeleteResult
}

// DeleteResult reports which keys were removed and which were not.
type DeleteResult struct {
	Deleted []string      `json:"deleted"`
	Errors  []DeleteError `json:"errors"`
}

// DeleteError describes one key that could not be removed.
type DeleteError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Config selects and configures a storage driver.
type Config struct {
	Driver string // s3, local

	// s3
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// local
	BaseDir string

	// PublicBaseURL overrides the URL prefix returned by Upload.
	PublicBaseURL string
}

// New builds the driver named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg)
	case "local", "":
		return NewLocalStorage(cfg.BaseDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
