// Package storage holds file bytes. Rows in stored_files point at blobs by key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds a date-partitioned, unguessable key for ownerID.
func NewKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("files/%s/%d/%02d/%02d/%s", ownerID, now.Year(), now.Month(), now.Day(), uuid.NewString())
}

// Open picks a BlobStore by driver name: "s3", or "local" (the default).
func Open(ctx context.Context, driver, localDir string, s3cfg S3Config) (BlobStore, error) {
	switch driver {
	case "s3":
		s, err := NewS3Store(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "local", "":
		s, err := NewLocalStore(localDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
