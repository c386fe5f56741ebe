package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/aegisapi/internal/config"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminUser creates the configured admin account once. It is a no-op
// when ADMIN_EMAIL or ADMIN_PASSWORD are unset or the email already exists.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE LOWER(email) = LOWER($1)`, cfg.AdminEmail).Scan(&dummy)
	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	u := user.User{
		ID:            uuid.NewString(),
		Email:         cfg.AdminEmail,
		Username:      cfg.AdminUsername,
		FirstName:     "System",
		LastName:      "Administrator",
		PasswordHash:  hash,
		Role:          cfg.AdminRole,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, email, username, first_name, last_name, password_hash, role, is_active, email_verified, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash, u.Role, u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
	)

	return err
}
