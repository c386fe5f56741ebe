package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/file"
	"github.com/geocoder89/aegisapi/internal/storage"
)

// Job is one cleanup task. Run returns how many rows or objects it removed.
type Job struct {
	Name string
	Spec string // cron spec with a seconds field
	Run  func(ctx context.Context) (int64, error)
}

type TokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRefreshTokens deletes refresh token rows that expired or were
// revoked more than retention ago.
func PurgeRefreshTokens(spec string, store TokenPurger, retention time.Duration, now func() time.Time) Job {
	return purgeJob("purge_refresh_tokens", spec, store, retention, now)
}

// PurgeAuthTokens deletes consumed or expired one-time tokens.
func PurgeAuthTokens(spec string, store TokenPurger, retention time.Duration, now func() time.Time) Job {
	return purgeJob("purge_auth_tokens", spec, store, retention, now)
}

func purgeJob(name, spec string, store TokenPurger, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name: name,
		Spec: spec,
		Run: func(ctx context.Context) (int64, error) {
			return store.PurgeExpired(ctx, now().Add(-retention))
		},
	}
}

type DeletedFiles interface {
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]file.StoredFile, error)
	HardDelete(ctx context.Context, id string) error
}

// CleanupFiles removes blobs and rows of files soft-deleted more than
// retention ago, batch at a time. A missing blob still lets the row go.
func CleanupFiles(spec string, files DeletedFiles, blobs storage.BlobStore, retention time.Duration, batch int, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	if batch <= 0 {
		batch = 100
	}
	return Job{
		Name: "cleanup_deleted_files",
		Spec: spec,
		Run: func(ctx context.Context) (int64, error) {
			rows, err := files.ListDeletedBefore(ctx, now().Add(-retention), batch)
			if err != nil {
				return 0, err
			}

			var (
				removed int64
				errs    []error
			)
			for _, f := range rows {
				if err := blobs.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
					errs = append(errs, fmt.Errorf("delete blob %s: %w", f.ID, err))
					continue
				}
				if err := files.HardDelete(ctx, f.ID); err != nil {
					errs = append(errs, fmt.Errorf("delete row %s: %w", f.ID, err))
					continue
				}
				removed++
			}
			return removed, errors.Join(errs...)
		},
	}
}
