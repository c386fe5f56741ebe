package crud

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/geocoder89/aegisapi/internal/apperr"
)

type Sort struct {
	Column string
	Desc   bool
}

type Condition struct {
	Column string
	Op     string // =, >=, <=
	Value  any
}

type Query struct {
	Page       int
	Limit      int
	Sort       []Sort
	Search     string
	Conditions []Condition
	Fields     []string
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ParseQuery reads page, limit, sort, search, fields and the schema's
// filters from v. Unknown parameters are ignored; malformed known ones are a
// validation error.
func ParseQuery(v url.Values, s Schema) (Query, error) {
	q := Query{Page: 1, Limit: DefaultLimit, Search: strings.TrimSpace(v.Get("search"))}
	var fieldErrs []apperr.FieldError

	if raw := v.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fieldErrs = append(fieldErrs, apperr.FieldError{Field: "page", Code: "min", Message: "must be a positive integer"})
		} else {
			q.Page = n
		}
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fieldErrs = append(fieldErrs, apperr.FieldError{Field: "limit", Code: "min", Message: "must be a positive integer"})
		} else {
			q.Limit = min(n, MaxLimit)
		}
	}

	sorts, err := parseSort(v.Get("sort"), s)
	if err != nil {
		fieldErrs = append(fieldErrs, *err)
	}
	q.Sort = sorts

	if raw := v.Get("fields"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !s.isColumn(f) {
				fieldErrs = append(fieldErrs, apperr.FieldError{Field: "fields", Code: "oneof", Message: "unknown field " + f})
				continue
			}
			q.Fields = append(q.Fields, f)
		}
	}

	for _, f := range s.Filters {
		params := [][2]string{{f.Column, "="}}
		if f.Range {
			params = append(params, [2]string{f.Column + "_min", ">="}, [2]string{f.Column + "_max", "<="})
		}
		for _, p := range params {
			param, op := p[0], p[1]
			raw := v.Get(param)
			if raw == "" {
				continue
			}
			val, ok := parseValue(raw, f.Type)
			if !ok {
				fieldErrs = append(fieldErrs, apperr.FieldError{Field: param, Code: "type", Message: "invalid value"})
				continue
			}
			q.Conditions = append(q.Conditions, Condition{Column: f.Column, Op: op, Value: val})
		}
	}

	if len(fieldErrs) > 0 {
		return Query{}, apperr.Validation("Invalid query parameters", fieldErrs)
	}
	return q, nil
}

// parseSort accepts "field:desc,field2:asc"; a bare field sorts ascending.
func parseSort(raw string, s Schema) ([]Sort, *apperr.FieldError) {
	if strings.TrimSpace(raw) == "" {
		return []Sort{{Column: "created_at", Desc: true}}, nil
	}

	var out []Sort
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, dir, _ := strings.Cut(part, ":")
		col = strings.TrimSpace(col)
		if !s.sortable(col) {
			return nil, &apperr.FieldError{Field: "sort", Code: "oneof", Message: "cannot sort by " + col}
		}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
			out = append(out, Sort{Column: col})
		case "desc":
			out = append(out, Sort{Column: col, Desc: true})
		default:
			return nil, &apperr.FieldError{Field: "sort", Code: "oneof", Message: "direction must be asc or desc"}
		}
	}
	if len(out) == 0 {
		out = []Sort{{Column: "created_at", Desc: true}}
	}
	return out, nil
}

func parseValue(raw string, t ValueType) (any, bool) {
	switch t {
	case Int:
		n, err := strconv.ParseInt(raw, 10, 64)
		return n, err == nil
	case Decimal:
		n, err := ParseAmount(raw)
		return n, err == nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		return b, err == nil
	default:
		return raw, true
	}
}
