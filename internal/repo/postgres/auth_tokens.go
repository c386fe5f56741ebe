package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/jackc/pgx/v5"
)

// ErrTokenInvalid covers unknown, consumed, expired and wrong-purpose tokens alike.
var ErrTokenInvalid = errors.New("token invalid or expired")

// AuthTokensRepo stores hashed one-time tokens (email verification, password reset, unlock).
type AuthTokensRepo struct {
	db   DBTX
	prom *observability.Prom
}

func (r *AuthTokensRepo) Create(ctx context.Context, t user.OneTimeToken) error {
	return observe(r.prom, "auth_tokens.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO auth_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			t.ID, t.UserID, t.Purpose, t.TokenHash, t.ExpiresAt, t.CreatedAt,
		)
		return err
	})
}

// Peek returns a still-valid token without consuming it.
func (r *AuthTokensRepo) Peek(ctx context.Context, purpose, hash string) (user.OneTimeToken, error) {
	var t user.OneTimeToken
	err := observe(r.prom, "auth_tokens.peek", func() error {
		err := r.db.QueryRow(ctx, `
			SELECT id, user_id, purpose, token_hash, expires_at, consumed_at, created_at
			FROM auth_tokens
			WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > NOW()
		`, hash, purpose).Scan(&t.ID, &t.UserID, &t.Purpose, &t.TokenHash, &t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenInvalid
		}
		return err
	})
	return t, err
}

// Consume marks a valid token used and returns its owner. The consumed_at
// guard makes a second concurrent consume fail with ErrTokenInvalid.
func (r *AuthTokensRepo) Consume(ctx context.Context, purpose, hash string) (string, error) {
	var userID string
	err := observe(r.prom, "auth_tokens.consume", func() error {
		err := r.db.QueryRow(ctx, `
			UPDATE auth_tokens
			SET consumed_at = NOW()
			WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > NOW()
			RETURNING user_id
		`, hash, purpose).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenInvalid
		}
		return err
	})
	return userID, err
}

// InvalidateForUser consumes every outstanding token of purpose so only the newest link works.
func (r *AuthTokensRepo) InvalidateForUser(ctx context.Context, userID, purpose string) error {
	return observe(r.prom, "auth_tokens.invalidate", func() error {
		_, err := r.db.Exec(ctx, `
			UPDATE auth_tokens SET consumed_at = NOW()
			WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
		`, userID, purpose)
		return err
	})
}

func (r *AuthTokensRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := observe(r.prom, "auth_tokens.purge", func() error {
		tag, err := r.db.Exec(ctx, `
			DELETE FROM auth_tokens
			WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)
		`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
