package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/storage/local"
	"github.com/wzhao556/docflow/pkg/storage/minio"
	"github.com/wzhao556/docflow/pkg/storage/s3"
)

// Type selects a storage backend.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
	TypeMinio Type = "minio"
)

// Storage is the artifact backend the managed file store sits on top of.
type Storage interface {
	// Store writes the reader's contents under key and returns the stored key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the object stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects last modified before threshold.
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage creates a storage backend of the given type.
func NewStorage(storageType Type, log logger.Logger) (Storage, error) {
	switch storageType {
	case TypeLocal:
		return local.GetClient(log)
	case TypeS3:
		return s3.GetClient(log)
	case TypeMinio:
		return minio.GetClient(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
