package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/jackc/pgx/v5"
)

var ErrUserNotFound = errors.New("user not found")

type UsersRepo struct {
	db   DBTX
	prom *observability.Prom
}

const userColumns = `id, email, username, first_name, last_name, password_hash, role,
	is_active, email_verified, failed_login_attempts, locked_until, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.EmailVerified,
		&u.FailedLoginAttempts,
		&u.LockedUntil,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) getOne(ctx context.Context, op, where string, arg any) (user.User, error) {
	var u user.User
	err := observe(r.prom, op, func() error {
		var err error
		u, err = scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
		return err
	})
	return u, err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_id", `id = $1`, id)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `LOWER(email) = LOWER($1)`, email)
}

// GetByLogin matches either the email or the username.
func (r *UsersRepo) GetByLogin(ctx context.Context, login string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_login", `LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1)`, login)
}

// EmailTaken and UsernameTaken ignore the row with excludeID (pass "" to check all).
func (r *UsersRepo) EmailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	return r.exists(ctx, "users.email_taken", `LOWER(email) = LOWER($1)`, email, excludeID)
}

func (r *UsersRepo) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	return r.exists(ctx, "users.username_taken", `LOWER(username) = LOWER($1)`, username, excludeID)
}

func (r *UsersRepo) exists(ctx context.Context, op, where, val, excludeID string) (bool, error) {
	var ok bool
	err := observe(r.prom, op, func() error {
		return r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE `+where+` AND ($2 = '' OR id::text <> $2))`,
			val, excludeID,
		).Scan(&ok)
	})
	return ok, err
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) error {
	return observe(r.prom, "users.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO users (id, email, username, first_name, last_name, password_hash, role, is_active, email_verified, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash, u.Role, u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
}

// Roles returns the extra roles granted through user_roles.
func (r *UsersRepo) Roles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := observe(r.prom, "users.roles", func() error {
		rows, err := r.db.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
		if err != nil {
			return err
		}
		roles, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return roles, err
}

func (r *UsersRepo) Departments(ctx context.Context, userID string) ([]string, error) {
	var deps []string
	err := observe(r.prom, "users.departments", func() error {
		rows, err := r.db.Query(ctx, `
			SELECT d.code FROM user_departments ud
			JOIN departments d ON d.id = ud.department_id
			WHERE ud.user_id = $1 AND d.is_active
			ORDER BY ud.is_primary DESC, d.code`, userID)
		if err != nil {
			return err
		}
		deps, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return deps, err
}

// RecordLoginFailure bumps the failure counter and locks the account once it
// reaches maxAttempts. A lock that has already expired starts a fresh count.
// It returns the updated counter and lock expiry.
func (r *UsersRepo) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil *time.Time
	)
	err := observe(r.prom, "users.login_failure", func() error {
		return r.db.QueryRow(ctx, `
			UPDATE users u
			SET failed_login_attempts = n.attempts,
			    locked_until = CASE WHEN n.attempts >= $2 THEN NOW() + make_interval(secs => $3)
			                        WHEN u.locked_until <= NOW() THEN NULL
			                        ELSE u.locked_until END,
			    updated_at = NOW()
			FROM (
				SELECT id,
				       CASE WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
				            ELSE failed_login_attempts + 1 END AS attempts
				FROM users WHERE id = $1
				FOR UPDATE
			) n
			WHERE u.id = n.id
			RETURNING u.failed_login_attempts, u.locked_until`,
			id, maxAttempts, lockFor.Seconds(),
		).Scan(&attempts, &lockedUntil)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrUserNotFound
	}
	return attempts, lockedUntil, err
}

func (r *UsersRepo) RecordLoginSuccess(ctx context.Context, id string) error {
	return r.execOne(ctx, "users.login_success", `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
}

func (r *UsersRepo) Unlock(ctx context.Context, id string) error {
	return r.execOne(ctx, "users.unlock", `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1`, id)
}

func (r *UsersRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.execOne(ctx, "users.verify_email", `
		UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// UpdatePassword also clears any lockout.
func (r *UsersRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.execOne(ctx, "users.update_password", `
		UPDATE users SET password_hash = $2, failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1`, id, hash)
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, id, username, firstName, lastName string) error {
	return r.execOne(ctx, "users.update_profile", `
		UPDATE users SET username = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $1`, id, username, firstName, lastName)
}

// UserFilter narrows List. Empty fields match everything.
type UserFilter struct {
	Search string // email, username or name, case-insensitive
	Role   string // primary role or an extra grant
	Active *bool
	Limit  int
	Offset int
}

const userFilterWhere = `
	WHERE ($1 = '' OR email ILIKE '%' || $1 || '%' OR username ILIKE '%' || $1 || '%'
	       OR (first_name || ' ' || last_name) ILIKE '%' || $1 || '%')
	  AND ($2 = '' OR role = $2 OR EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = users.id AND ur.role = $2))
	  AND ($3::boolean IS NULL OR is_active = $3)`

// List returns one page of users, newest first, and the total match count.
func (r *UsersRepo) List(ctx context.Context, f UserFilter) ([]user.User, int, error) {
	var (
		out   []user.User
		total int
	)
	err := observe(r.prom, "users.list", func() error {
		if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+userFilterWhere,
			f.Search, f.Role, f.Active,
		).Scan(&total); err != nil {
			return err
		}

		rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users`+userFilterWhere+`
			ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`,
			f.Search, f.Role, f.Active, f.Limit, f.Offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, total, err
}

func (r *UsersRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, "users.set_active", `
		UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// AddRole grants an extra role. Granting one the user already has is a no-op.
func (r *UsersRepo) AddRole(ctx context.Context, id, role string) error {
	return observe(r.prom, "users.add_role", func() error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
			ON CONFLICT (user_id, role) DO NOTHING`, id, role)
		return err
	})
}

// RemoveRole reports whether the grant existed.
func (r *UsersRepo) RemoveRole(ctx context.Context, id, role string) (bool, error) {
	var removed bool
	err := observe(r.prom, "users.remove_role", func() error {
		tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, id, role)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		return nil
	})
	return removed, err
}

func (r *UsersRepo) execOne(ctx context.Context, op, sql string, args ...any) error {
	return observe(r.prom, op, func() error {
		tag, err := r.db.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
