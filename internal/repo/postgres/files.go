package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/file"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/jackc/pgx/v5"
)

var ErrFileNotFound = errors.New("file not found")

type FilesRepo struct {
	db   DBTX
	prom *observability.Prom
}

func (r *FilesRepo) Create(ctx context.Context, f file.StoredFile) error {
	return observe(r.prom, "files.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO stored_files (id, owner_id, storage_key, mime_type, size, category, encrypted, iv, auth_tag, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			f.ID, f.OwnerID, f.StorageKey, f.MimeType, f.Size, f.Category, f.Encrypted, f.IV, f.AuthTag, f.Metadata, f.CreatedAt,
		)
		return err
	})
}

// GetByID ignores soft-deleted rows.
func (r *FilesRepo) GetByID(ctx context.Context, id string) (file.StoredFile, error) {
	var f file.StoredFile
	err := observe(r.prom, "files.get_by_id", func() error {
		err := r.db.QueryRow(ctx, `
			SELECT id, owner_id, storage_key, mime_type, size, category, encrypted, iv, auth_tag, metadata, deleted_at, created_at
			FROM stored_files
			WHERE id = $1 AND deleted_at IS NULL
		`, id).Scan(&f.ID, &f.OwnerID, &f.StorageKey, &f.MimeType, &f.Size, &f.Category, &f.Encrypted,
			&f.IV, &f.AuthTag, &f.Metadata, &f.DeletedAt, &f.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFileNotFound
		}
		return err
	})
	return f, err
}

func (r *FilesRepo) SoftDelete(ctx context.Context, id string) error {
	return observe(r.prom, "files.soft_delete", func() error {
		tag, err := r.db.Exec(ctx, `UPDATE stored_files SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrFileNotFound
		}
		return nil
	})
}

// ListDeletedBefore returns soft-deleted rows older than cutoff, oldest first.
func (r *FilesRepo) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]file.StoredFile, error) {
	var out []file.StoredFile
	err := observe(r.prom, "files.list_deleted", func() error {
		rows, err := r.db.Query(ctx, `
			SELECT id, storage_key FROM stored_files
			WHERE deleted_at IS NOT NULL AND deleted_at < $1
			ORDER BY deleted_at
			LIMIT $2
		`, cutoff, limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (file.StoredFile, error) {
			var f file.StoredFile
			err := row.Scan(&f.ID, &f.StorageKey)
			return f, err
		})
		return err
	})
	return out, err
}

func (r *FilesRepo) HardDelete(ctx context.Context, id string) error {
	return observe(r.prom, "files.hard_delete", func() error {
		_, err := r.db.Exec(ctx, `DELETE FROM stored_files WHERE id = $1`, id)
		return err
	})
}
