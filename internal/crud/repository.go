package crud

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("record not found")

type Option struct {
	Value int64  `json:"value"`
	Label string `json:"label"`
}

type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type ReferenceCount struct {
	Table string `json:"table"`
	Field string `json:"field"`
	Count int    `json:"count"`
}

type DeleteCheck struct {
	CanDelete  bool             `json:"canDelete"`
	References []ReferenceCount `json:"references"`
}

// Repository runs the schema's SQL through pgx and scans rows into T by db tag.
type Repository[T any] struct {
	db     postgres.DBTX
	schema Schema
	prom   *observability.Prom
}

func NewRepository[T any](db postgres.DBTX, schema Schema, prom *observability.Prom) *Repository[T] {
	return &Repository[T]{db: db, schema: schema, prom: prom}
}

func (r *Repository[T]) op(name string) string {
	return r.schema.Table + "." + name
}

func (r *Repository[T]) collect(rows pgx.Rows, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

func (r *Repository[T]) one(rows pgx.Rows, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, ErrNotFound
	}
	return v, err
}

// writableColumns returns the sorted keys of vals that the schema allows writing.
func (r *Repository[T]) writableColumns(vals map[string]any) ([]string, error) {
	cols := make([]string, 0, len(vals))
	for c := range vals {
		if !r.schema.writable(c) {
			return nil, fmt.Errorf("crud: %s: column %q is not writable", r.schema.Table, c)
		}
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols, nil
}

func (r *Repository[T]) Create(ctx context.Context, vals map[string]any) (T, error) {
	var out T
	err := r.prom.ObserveDB(r.op("create"), func() error {
		cols, err := r.writableColumns(vals)
		if err != nil {
			return err
		}

		placeholders := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = vals[c]
		}

		sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
			r.schema.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), r.schema.selectList())

		out, err = r.one(r.db.Query(ctx, sql, args...))
		return err
	})
	return out, err
}

func (r *Repository[T]) GetByID(ctx context.Context, id int64) (T, error) {
	var out T
	err := r.prom.ObserveDB(r.op("get_by_id"), func() error {
		var err error
		out, err = r.one(r.db.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, r.schema.selectList(), r.schema.Table), id))
		return err
	})
	return out, err
}

// where renders the filter and search conditions of q, numbering
// placeholders from 1.
func (r *Repository[T]) where(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)

	for _, c := range q.Conditions {
		args = append(args, c.Value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", c.Column, c.Op, len(args)))
	}

	if q.Search != "" && len(r.schema.Searchable) > 0 {
		args = append(args, "%"+q.Search+"%")
		ors := make([]string, len(r.schema.Searchable))
		for i, c := range r.schema.Searchable {
			ors[i] = fmt.Sprintf("%s::text ILIKE $%d", c, len(args))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository[T]) List(ctx context.Context, q Query) ([]T, error) {
	var out []T
	err := r.prom.ObserveDB(r.op("list"), func() error {
		where, args := r.where(q)

		order := make([]string, 0, len(q.Sort)+1)
		for _, s := range q.Sort {
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			order = append(order, s.Column+" "+dir)
		}
		// stable ordering for pagination
		order = append(order, "id ASC")

		args = append(args, q.Limit, q.Offset())
		sql := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s LIMIT $%d OFFSET $%d`,
			r.schema.selectList(), r.schema.Table, where, strings.Join(order, ", "), len(args)-1, len(args))

		var err error
		out, err = r.collect(r.db.Query(ctx, sql, args...))
		return err
	})
	return out, err
}

func (r *Repository[T]) Count(ctx context.Context, q Query) (int, error) {
	var n int
	err := r.prom.ObserveDB(r.op("count"), func() error {
		where, args := r.where(q)
		return r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, r.schema.Table, where), args...).Scan(&n)
	})
	return n, err
}

func (r *Repository[T]) Update(ctx context.Context, id int64, vals map[string]any) (T, error) {
	if len(vals) == 0 {
		return r.GetByID(ctx, id)
	}

	var out T
	err := r.prom.ObserveDB(r.op("update"), func() error {
		cols, err := r.writableColumns(vals)
		if err != nil {
			return err
		}

		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		args = append(args, id)
		for i, c := range cols {
			args = append(args, vals[c])
			sets[i] = fmt.Sprintf("%s = $%d", c, len(args))
		}

		sql := fmt.Sprintf(`UPDATE %s SET %s, updated_at = NOW() WHERE id = $1 RETURNING %s`,
			r.schema.Table, strings.Join(sets, ", "), r.schema.selectList())

		out, err = r.one(r.db.Query(ctx, sql, args...))
		return err
	})
	return out, err
}

func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	return r.prom.ObserveDB(r.op("delete"), func() error {
		tag, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.schema.Table), id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CanBeDeleted counts rows in non-cascading referencing tables.
func (r *Repository[T]) CanBeDeleted(ctx context.Context, id int64) (DeleteCheck, error) {
	check := DeleteCheck{CanDelete: true, References: []ReferenceCount{}}
	err := r.prom.ObserveDB(r.op("can_be_deleted"), func() error {
		for _, ref := range r.schema.References {
			if ref.Cascade {
				continue
			}
			var n int
			err := r.db.QueryRow(ctx,
				fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, ref.Table, ref.Field), id).Scan(&n)
			if err != nil {
				return err
			}
			if n > 0 {
				check.CanDelete = false
				check.References = append(check.References, ReferenceCount{Table: ref.Table, Field: ref.Field, Count: n})
			}
		}
		return nil
	})
	return check, err
}

// Exists reports whether another row (id != excludeID) has value in column,
// compared case-insensitively.
func (r *Repository[T]) Exists(ctx context.Context, column string, value any, excludeID int64) (bool, error) {
	if !r.schema.isColumn(column) {
		return false, fmt.Errorf("crud: %s: unknown column %q", r.schema.Table, column)
	}

	var ok bool
	err := r.prom.ObserveDB(r.op("exists"), func() error {
		return r.db.QueryRow(ctx,
			fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE LOWER(%s::text) = LOWER($1::text) AND id <> $2)`,
				r.schema.Table, column),
			fmt.Sprint(value), excludeID,
		).Scan(&ok)
	})
	return ok, err
}

func (r *Repository[T]) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.prom.ObserveDB(r.op("stats"), func() error {
		if !r.schema.HasActive {
			err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.schema.Table)).Scan(&s.Total)
			s.Active = s.Total
			return err
		}
		return r.db.QueryRow(ctx, fmt.Sprintf(
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM %s`, r.schema.Table,
		)).Scan(&s.Total, &s.Active)
	})
	s.Inactive = s.Total - s.Active
	return s, err
}

func (r *Repository[T]) Dropdown(ctx context.Context, search string, limit int) ([]Option, error) {
	label := r.schema.DropdownLabel
	if label == "" {
		label = "id"
	}

	var (
		conds []string
		args  []any
	)
	if r.schema.HasActive {
		conds = append(conds, "is_active")
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		conds = append(conds, fmt.Sprintf("%s::text ILIKE $%d", label, len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	var out []Option
	err := r.prom.ObserveDB(r.op("dropdown"), func() error {
		rows, err := r.db.Query(ctx, fmt.Sprintf(
			`SELECT id, %s::text FROM %s%s ORDER BY %s LIMIT $%d`, label, r.schema.Table, where, label, len(args),
		), args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Option, error) {
			var o Option
			err := row.Scan(&o.Value, &o.Label)
			return o, err
		})
		return err
	})
	return out, err
}
