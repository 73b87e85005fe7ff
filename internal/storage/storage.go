// Package storage provides object storage access for the data lake: the input
// and output roots, parallel staging of inputs and publishing of outputs.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrListFailed     = errors.New("list failed")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage abstracts object storage operations.
// Implementations are S3 (and S3-compatible stores) and the local filesystem.
// Keys always use forward slashes.
type ObjectStorage interface {
	// Upload uploads a local file to the given key.
	Upload(ctx context.Context, localPath, key string) error

	// Download writes the object at key to localPath, creating parent
	// directories. Returns ErrObjectNotFound when the key does not exist.
	Download(ctx context.Context, key, localPath string) error

	// DeleteObjects removes several objects in as few requests as possible.
	// Missing keys are not an error.
	DeleteObjects(ctx context.Context, keys []string) error

	// ListObjects returns every object under prefix, sorted by key.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB).
	// Files at or below this size go up in a single PutObject.
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 8 * 1024 * 1024,
	}
}
