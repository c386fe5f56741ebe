package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so repos run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store hands out repositories bound to the pool or to a transaction.
type Store struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewStore(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{pool: pool, prom: prom}
}

func (s *Store) Users() *UsersRepo { return &UsersRepo{db: s.pool, prom: s.prom} }

func (s *Store) RefreshTokens() *RefreshTokensRepo {
	return &RefreshTokensRepo{db: s.pool, prom: s.prom}
}

func (s *Store) AuthTokens() *AuthTokensRepo { return &AuthTokensRepo{db: s.pool, prom: s.prom} }

func (s *Store) Files() *FilesRepo { return &FilesRepo{db: s.pool, prom: s.prom} }

// Tx is the set of repositories bound to one transaction.
type Tx struct {
	Users         *UsersRepo
	RefreshTokens *RefreshTokensRepo
	AuthTokens    *AuthTokensRepo
}

// WithinTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	err = fn(ctx, Tx{
		Users:         &UsersRepo{db: pgtx, prom: s.prom},
		RefreshTokens: &RefreshTokensRepo{db: pgtx, prom: s.prom},
		AuthTokens:    &AuthTokensRepo{db: pgtx, prom: s.prom},
	})
	if err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(prom *observability.Prom, op string, fn func() error) error {
	return prom.ObserveDB(op, fn)
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UniqueConstraint returns the violated constraint name, or "" for other errors.
func UniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
