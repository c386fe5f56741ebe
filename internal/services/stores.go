package services

import (
	"context"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
)

// Small interfaces over the postgres repos so tests can swap in fakes.

type UserStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByLogin(ctx context.Context, login string) (user.User, error)
	EmailTaken(ctx context.Context, email, excludeID string) (bool, error)
	UsernameTaken(ctx context.Context, username, excludeID string) (bool, error)
	Create(ctx context.Context, u user.User) error
	Roles(ctx context.Context, userID string) ([]string, error)
	Departments(ctx context.Context, userID string) ([]string, error)
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error)
	RecordLoginSuccess(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateProfile(ctx context.Context, id, username, firstName, lastName string) error
	List(ctx context.Context, f postgres.UserFilter) ([]user.User, int, error)
	SetActive(ctx context.Context, id string, active bool) error
	AddRole(ctx context.Context, id, role string) error
	RemoveRole(ctx context.Context, id, role string) (bool, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, row postgres.RefreshTokenRow) error
	GetForUpdate(ctx context.Context, id string) (postgres.RefreshTokenRow, error)
	Revoke(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type OneTimeTokenStore interface {
	Create(ctx context.Context, t user.OneTimeToken) error
	Peek(ctx context.Context, purpose, hash string) (user.OneTimeToken, error)
	Consume(ctx context.Context, purpose, hash string) (string, error)
	InvalidateForUser(ctx context.Context, userID, purpose string) error
}

// TxStores are the stores bound to one transaction.
type TxStores struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	AuthTokens    OneTimeTokenStore
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s TxStores) error) error
}

// PostgresTransactor adapts postgres.Store to Transactor.
type PostgresTransactor struct {
	Store *postgres.Store
}

func (t PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, s TxStores) error) error {
	return t.Store.WithinTx(ctx, func(ctx context.Context, tx postgres.Tx) error {
		return fn(ctx, TxStores{
			Users:         tx.Users,
			RefreshTokens: tx.RefreshTokens,
			AuthTokens:    tx.AuthTokens,
		})
	})
}
