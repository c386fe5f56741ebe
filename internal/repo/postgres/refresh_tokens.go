package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/jackc/pgx/v5"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenRow struct {
	ID         string
	UserID     string
	TokenHash  string
	UserAgent  string
	IPAddress  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
	CreatedAt  time.Time
}

type RefreshTokensRepo struct {
	db   DBTX
	prom *observability.Prom
}

func (r *RefreshTokensRepo) Create(ctx context.Context, row RefreshTokenRow) error {
	return observe(r.prom, "refresh_tokens.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO refresh_tokens (id, user_id, token_hash, user_agent, ip_address, expires_at, revoked_at, replaced_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			row.ID, row.UserID, row.TokenHash, row.UserAgent, row.IPAddress, row.ExpiresAt, row.RevokedAt, row.ReplacedBy, row.CreatedAt,
		)
		return err
	})
}

// GetForUpdate locks the row to prevent concurrent refresh races.
// Only meaningful when the repo is bound to a transaction.
func (r *RefreshTokensRepo) GetForUpdate(ctx context.Context, id string) (RefreshTokenRow, error) {
	var row RefreshTokenRow

	err := observe(r.prom, "refresh_tokens.get_for_update", func() error {
		err := r.db.QueryRow(ctx, `
			SELECT id, user_id, token_hash, user_agent, ip_address, expires_at, revoked_at, replaced_by, created_at
			FROM refresh_tokens
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(
			&row.ID,
			&row.UserID,
			&row.TokenHash,
			&row.UserAgent,
			&row.IPAddress,
			&row.ExpiresAt,
			&row.RevokedAt,
			&row.ReplacedBy,
			&row.CreatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRefreshTokenNotFound
		}
		return err
	})

	return row, err
}

func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string, replacedBy *string) error {
	return observe(r.prom, "refresh_tokens.revoke", func() error {
		_, err := r.db.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW(), replaced_by = $2
			WHERE id = $1 AND revoked_at IS NULL
		`, id, replacedBy)
		return err
	})
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	return observe(r.prom, "refresh_tokens.revoke_all", func() error {
		_, err := r.db.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
		return err
	})
}

// PurgeExpired deletes rows that expired or were revoked before cutoff.
func (r *RefreshTokensRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := observe(r.prom, "refresh_tokens.purge", func() error {
		tag, err := r.db.Exec(ctx, `
			DELETE FROM refresh_tokens
			WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
		`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
