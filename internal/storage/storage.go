// Package storage publishes result files to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkilian/rptbench/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		s3cfg := DefaultS3Config()
		if cfg.S3.Region != "" {
			s3cfg.Region = cfg.S3.Region
		}
		if cfg.S3.Endpoint != "" {
			s3cfg.Endpoint = cfg.S3.Endpoint
			s3cfg.UsePathStyle = true
		}
		return NewS3Storage(ctx, cfg.S3.Bucket, s3cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
