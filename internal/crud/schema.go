// Package crud is one repository/service/handler stack shared by every flat
// catalogue entity. Each entity declares a Schema; the generic code builds SQL
// only from the identifiers the Schema lists, never from request input.
package crud

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

type ValueType int

const (
	Text ValueType = iota
	Int
	Decimal
	Bool
)

// Filter exposes a column as a query parameter. Range filters also accept
// <column>_min and <column>_max.
type Filter struct {
	Column string
	Type   ValueType
	Range  bool
}

// Reference is a foreign key in another table pointing at this entity's id.
// Non-cascading references block deletion while rows point here.
type Reference struct {
	Table   string
	Field   string
	Cascade bool
}

type Schema struct {
	Resource string // rbac resource name
	Label    string // singular noun used in messages
	Table    string

	// Columns besides id, created_at and updated_at. Entity structs carry a
	// db tag for each of them.
	Columns    []string
	Searchable []string
	Sortable   []string
	Filters    []Filter

	Unique      []string
	NonNegative []string
	Emails      []string
	References  []Reference

	// DropdownLabel is the column shown as the option label.
	DropdownLabel string

	// RoleFields limits the fields a role may read. Roles with "*" see
	// everything; a nil map means no restriction.
	RoleFields map[string][]string

	HasActive bool // table has is_active
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the schema is self-consistent. Called once at startup.
func (s Schema) Validate() error {
	idents := append([]string{s.Table}, s.Columns...)
	for _, r := range s.References {
		idents = append(idents, r.Table, r.Field)
	}
	for _, id := range idents {
		if !identRe.MatchString(id) {
			return fmt.Errorf("crud: %s: bad identifier %q", s.Table, id)
		}
	}

	groups := map[string][]string{
		"searchable":   s.Searchable,
		"sortable":     s.Sortable,
		"unique":       s.Unique,
		"non-negative": s.NonNegative,
		"email":        s.Emails,
	}
	for name, cols := range groups {
		for _, c := range cols {
			if !s.isColumn(c) {
				return fmt.Errorf("crud: %s: %s column %q is not declared", s.Table, name, c)
			}
		}
	}
	for _, f := range s.Filters {
		if !s.isColumn(f.Column) {
			return fmt.Errorf("crud: %s: filter column %q is not declared", s.Table, f.Column)
		}
	}
	if s.DropdownLabel != "" && !s.isColumn(s.DropdownLabel) {
		return fmt.Errorf("crud: %s: dropdown label %q is not declared", s.Table, s.DropdownLabel)
	}
	return nil
}

func (s Schema) isColumn(c string) bool {
	switch c {
	case "id", "created_at", "updated_at":
		return true
	}
	return slices.Contains(s.Columns, c)
}

func (s Schema) writable(c string) bool {
	return slices.Contains(s.Columns, c)
}

func (s Schema) sortable(c string) bool {
	switch c {
	case "id", "created_at", "updated_at":
		return true
	}
	return slices.Contains(s.Sortable, c)
}

func (s Schema) selectList() string {
	cols := make([]string, 0, len(s.Columns)+3)
	cols = append(cols, "id")
	cols = append(cols, s.Columns...)
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// AllowedFields returns the readable fields for roles, or nil when unrestricted.
func (s Schema) AllowedFields(roles []string) []string {
	if s.RoleFields == nil {
		return nil
	}

	set := map[string]struct{}{"id": {}}
	for _, r := range roles {
		for _, f := range s.RoleFields[r] {
			if f == "*" {
				return nil
			}
			set[f] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
