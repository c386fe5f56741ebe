package crud

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Put sets m[col] to *v when v is non-nil. Update requests use it so omitted
// fields are left alone.
func Put[V any](m map[string]any, col string, v *V) {
	if v != nil {
		m[col] = *v
	}
}

// Nullable returns *v, or nil for a nil pointer so the column is written as NULL.
func Nullable[V any](v *V) any {
	if v == nil {
		return nil
	}
	return *v
}

// OrDefault returns *v, or def when v is nil.
func OrDefault[V any](v *V, def V) V {
	if v == nil {
		return def
	}
	return *v
}

// Money columns are NUMERIC and travel as pgtype.Numeric so amounts keep their
// exact decimal digits between JSON and postgres.

// ParseAmount parses a finite decimal such as "12.50".
func ParseAmount(s string) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(strings.TrimSpace(s)); err != nil {
		return pgtype.Numeric{}, err
	}
	if !finite(n) {
		return pgtype.Numeric{}, fmt.Errorf("crud: %q is not a finite amount", s)
	}
	return n, nil
}

// ZeroIfNull returns n, or 0 when n is NULL.
func ZeroIfNull(n pgtype.Numeric) pgtype.Numeric {
	if !n.Valid {
		return pgtype.Numeric{Int: big.NewInt(0), Valid: true}
	}
	return n
}

// NullableAmount returns n, or nil when n is NULL.
func NullableAmount(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	return n
}

// SubAmount returns a-b with NULL treated as 0. The result is NaN when either
// side is NaN or infinite.
func SubAmount(a, b pgtype.Numeric) pgtype.Numeric {
	a, b = ZeroIfNull(a), ZeroIfNull(b)
	if !finite(a) || !finite(b) {
		return pgtype.Numeric{NaN: true, Valid: true}
	}
	exp := min(a.Exp, b.Exp)
	x := new(big.Int).Mul(a.Int, pow10(a.Exp-exp))
	y := new(big.Int).Mul(b.Int, pow10(b.Exp-exp))
	return pgtype.Numeric{Int: x.Sub(x, y), Exp: exp, Valid: true}
}

func finite(n pgtype.Numeric) bool {
	return n.Valid && !n.NaN && n.InfinityModifier == pgtype.Finite && n.Int != nil
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
