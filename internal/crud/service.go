package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"
)

// Input is a create or update request. Values returns column -> value for
// the fields being written; update requests omit fields that were not sent.
type Input interface {
	Values() map[string]any
}

// Store is what Service needs from a Repository.
type Store[T any] interface {
	Create(ctx context.Context, vals map[string]any) (T, error)
	GetByID(ctx context.Context, id int64) (T, error)
	List(ctx context.Context, q Query) ([]T, error)
	Count(ctx context.Context, q Query) (int, error)
	Update(ctx context.Context, id int64, vals map[string]any) (T, error)
	Delete(ctx context.Context, id int64) error
	CanBeDeleted(ctx context.Context, id int64) (DeleteCheck, error)
	Exists(ctx context.Context, column string, value any, excludeID int64) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Dropdown(ctx context.Context, search string, limit int) ([]Option, error)
}

const (
	CodeDuplicateRecord  = "DUPLICATE_RECORD"
	CodeInvalidReference = "INVALID_REFERENCE"
	MaxBulkItems         = 100
)

type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

type BulkItemResult struct {
	Index int    `json:"index"`
	ID    int64  `json:"id,omitempty"`
	OK    bool   `json:"success"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type BulkResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

func (b *BulkResult) add(r BulkItemResult) {
	b.Total++
	if r.OK {
		b.Succeeded++
	} else {
		b.Failed++
	}
	b.Results = append(b.Results, r)
}

// Service runs the schema's write hooks around a Store.
type Service[T any] struct {
	store    Store[T]
	schema   Schema
	validate *validator.Validate
}

func NewService[T any](store Store[T], schema Schema) *Service[T] {
	return &Service[T]{store: store, schema: schema, validate: validator.New()}
}

func (s *Service[T]) Schema() Schema { return s.schema }

func (s *Service[T]) notFound() *apperr.Error {
	return apperr.NotFound(s.schema.Label + " not found")
}

// mapErr translates repository errors into apperr values.
func (s *Service[T]) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return s.notFound()
	case postgres.IsUniqueViolation(err):
		return apperr.Conflict(CodeDuplicateRecord, s.schema.Label+" already exists").
			WithDetails(map[string]string{"constraint": postgres.UniqueConstraint(err)}).
			Wrap(err)
	case postgres.IsForeignKeyViolation(err):
		return apperr.Unprocessable(CodeInvalidReference, "Referenced record does not exist", nil).Wrap(err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Internal(err)
}

// check runs the email, non-negative and uniqueness hooks over vals.
// excludeID is the row being updated, or 0 on create.
func (s *Service[T]) check(ctx context.Context, vals map[string]any, excludeID int64) error {
	var fieldErrs []apperr.FieldError
	for _, col := range s.schema.Emails {
		str, ok := vals[col].(string)
		if !ok || str == "" {
			continue
		}
		if err := s.validate.Var(str, "email"); err != nil {
			fieldErrs = append(fieldErrs, apperr.FieldError{Field: col, Code: "email", Message: "must be a valid email"})
		}
	}
	if len(fieldErrs) > 0 {
		return apperr.Validation("Validation failed", fieldErrs)
	}

	for _, col := range s.schema.NonNegative {
		if negative(vals[col]) {
			return apperr.Unprocessable("INVALID_"+strings.ToUpper(col), col+" must not be negative",
				[]apperr.FieldError{{Field: col, Code: "gte", Message: "must be 0 or greater"}})
		}
	}

	for _, col := range s.schema.Unique {
		v, ok := vals[col]
		if !ok || v == nil {
			continue
		}
		taken, err := s.store.Exists(ctx, col, v, excludeID)
		if err != nil {
			return apperr.Internal(err)
		}
		if taken {
			return apperr.Conflict(strings.ToUpper(col)+"_ALREADY_EXISTS",
				fmt.Sprintf("%s with this %s already exists", s.schema.Label, strings.ReplaceAll(col, "_", " ")))
		}
	}
	return nil
}

// negative also rejects NaN and infinite amounts. NULL is left to the column.
func negative(v any) bool {
	switch n := v.(type) {
	case int:
		return n < 0
	case int32:
		return n < 0
	case int64:
		return n < 0
	case pgtype.Numeric:
		return n.Valid && (!finite(n) || n.Int.Sign() < 0)
	}
	return false
}

func (s *Service[T]) Create(ctx context.Context, in Input) (T, error) {
	var zero T
	vals := in.Values()
	if err := s.check(ctx, vals, 0); err != nil {
		return zero, err
	}
	out, err := s.store.Create(ctx, vals)
	if err != nil {
		return zero, s.mapErr(err)
	}
	return out, nil
}

func (s *Service[T]) Get(ctx context.Context, id int64) (T, error) {
	out, err := s.store.GetByID(ctx, id)
	return out, s.mapErr(err)
}

func (s *Service[T]) List(ctx context.Context, q Query) (Page[T], error) {
	items, err := s.store.List(ctx, q)
	if err != nil {
		return Page[T]{}, s.mapErr(err)
	}
	total, err := s.store.Count(ctx, q)
	if err != nil {
		return Page[T]{}, s.mapErr(err)
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *Service[T]) Update(ctx context.Context, id int64, in Input) (T, error) {
	var zero T
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return zero, s.mapErr(err)
	}
	vals := in.Values()
	if err := s.check(ctx, vals, id); err != nil {
		return zero, err
	}
	out, err := s.store.Update(ctx, id, vals)
	return out, s.mapErr(err)
}

// Delete refuses while non-cascading references point at the row.
func (s *Service[T]) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return s.mapErr(err)
	}

	check, err := s.store.CanBeDeleted(ctx, id)
	if err != nil {
		return s.mapErr(err)
	}
	if !check.CanDelete {
		return apperr.Unprocessable(apperr.CodeCannotDeleteReferenced,
			fmt.Sprintf("Cannot delete %s: it is referenced by other records", strings.ToLower(s.schema.Label)),
			map[string]any{
				"references": check.References,
				"message":    "Remove or reassign the referencing records first",
			})
	}

	return s.mapErr(s.store.Delete(ctx, id))
}

func (s *Service[T]) Stats(ctx context.Context) (Stats, error) {
	out, err := s.store.Stats(ctx)
	return out, s.mapErr(err)
}

func (s *Service[T]) Dropdown(ctx context.Context, search string, limit int) ([]Option, error) {
	if limit < 1 || limit > MaxLimit {
		limit = MaxLimit
	}
	out, err := s.store.Dropdown(ctx, search, limit)
	if out == nil {
		out = []Option{}
	}
	return out, s.mapErr(err)
}

// BulkCreate creates each item independently and reports per-item outcomes.
func (s *Service[T]) BulkCreate(ctx context.Context, items []Input, idOf func(T) int64) (BulkResult, error) {
	if len(items) == 0 || len(items) > MaxBulkItems {
		return BulkResult{}, apperr.Field("items", "len", fmt.Sprintf("must contain 1 to %d items", MaxBulkItems))
	}

	res := BulkResult{Results: make([]BulkItemResult, 0, len(items))}
	for i, in := range items {
		out, err := s.Create(ctx, in)
		if err != nil {
			ae := apperr.From(err)
			if ae.Kind == apperr.KindInternal {
				return BulkResult{}, err
			}
			res.add(BulkItemResult{Index: i, Code: ae.Code, Error: ae.Message})
			continue
		}
		res.add(BulkItemResult{Index: i, ID: idOf(out), OK: true})
	}
	return res, nil
}

func (s *Service[T]) BulkDelete(ctx context.Context, ids []int64) (BulkResult, error) {
	if len(ids) == 0 || len(ids) > MaxBulkItems {
		return BulkResult{}, apperr.Field("ids", "len", fmt.Sprintf("must contain 1 to %d ids", MaxBulkItems))
	}

	res := BulkResult{Results: make([]BulkItemResult, 0, len(ids))}
	for i, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			ae := apperr.From(err)
			if ae.Kind == apperr.KindInternal {
				return BulkResult{}, err
			}
			res.add(BulkItemResult{Index: i, ID: id, Code: ae.Code, Error: ae.Message})
			continue
		}
		res.add(BulkItemResult{Index: i, ID: id, OK: true})
	}
	return res, nil
}
