// Package storage keeps exported datasets in object storage.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	dgerrors "github.com/datagen/datagen/internal/errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = dgerrors.NewStorageError(dgerrors.CodeObjectNotFound, "object not found", nil)
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// ObjectStorage abstracts the object store exports are written to.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put uploads the file at localPath under key, using multipart uploads
	// for large files. It returns the stored object's info.
	Put(ctx context.Context, localPath, key string) (ObjectInfo, error)

	// Open returns a reader over the object's content. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Stat returns the object's info, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 8 * 1024 * 1024,
	}
}

// RetryPolicy bounds the retries of a storage operation.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used by the S3 backend.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// retry runs operation until it succeeds, fails permanently or the policy is
// exhausted. Not-found errors are never retried.
func retry(ctx context.Context, policy RetryPolicy, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && dgerrors.GetCode(err) == dgerrors.CodeObjectNotFound {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxRetries), ctx))
}
