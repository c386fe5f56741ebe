// Package budget declares departmental budget allocations per fiscal year.
package budget

import (
	"time"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/jackc/pgx/v5/pgtype"
)

type Allocation struct {
	ID              int64          `db:"id" json:"id"`
	FiscalYear      int            `db:"fiscal_year" json:"fiscal_year"`
	DepartmentID    *int64         `db:"department_id" json:"department_id"`
	TotalBudget     pgtype.Numeric `db:"total_budget" json:"total_budget"`
	Q1Budget        pgtype.Numeric `db:"q1_budget" json:"q1_budget"`
	Q2Budget        pgtype.Numeric `db:"q2_budget" json:"q2_budget"`
	Q3Budget        pgtype.Numeric `db:"q3_budget" json:"q3_budget"`
	Q4Budget        pgtype.Numeric `db:"q4_budget" json:"q4_budget"`
	TotalSpent      pgtype.Numeric `db:"total_spent" json:"total_spent"`
	RemainingBudget pgtype.Numeric `db:"remaining_budget" json:"remaining_budget"`
	IsActive        bool           `db:"is_active" json:"is_active"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

func (a Allocation) RecordID() int64 { return a.ID }

type CreateRequest struct {
	FiscalYear      int            `json:"fiscal_year" binding:"required,gte=2000,lte=2600"`
	DepartmentID    *int64         `json:"department_id" binding:"omitempty,gt=0"`
	TotalBudget     pgtype.Numeric `json:"total_budget"`
	Q1Budget        pgtype.Numeric `json:"q1_budget"`
	Q2Budget        pgtype.Numeric `json:"q2_budget"`
	Q3Budget        pgtype.Numeric `json:"q3_budget"`
	Q4Budget        pgtype.Numeric `json:"q4_budget"`
	TotalSpent      pgtype.Numeric `json:"total_spent"`
	RemainingBudget pgtype.Numeric `json:"remaining_budget"`
	IsActive        *bool          `json:"is_active"`
}

// Values writes omitted amounts as 0 and defaults remaining_budget to total
// minus spent.
func (r CreateRequest) Values() map[string]any {
	remaining := r.RemainingBudget
	if !remaining.Valid {
		remaining = crud.SubAmount(r.TotalBudget, r.TotalSpent)
	}
	return map[string]any{
		"fiscal_year":      r.FiscalYear,
		"department_id":    crud.Nullable(r.DepartmentID),
		"total_budget":     crud.ZeroIfNull(r.TotalBudget),
		"q1_budget":        crud.ZeroIfNull(r.Q1Budget),
		"q2_budget":        crud.ZeroIfNull(r.Q2Budget),
		"q3_budget":        crud.ZeroIfNull(r.Q3Budget),
		"q4_budget":        crud.ZeroIfNull(r.Q4Budget),
		"total_spent":      crud.ZeroIfNull(r.TotalSpent),
		"remaining_budget": remaining,
		"is_active":        crud.OrDefault(r.IsActive, true),
	}
}

type UpdateRequest struct {
	FiscalYear      *int            `json:"fiscal_year" binding:"omitempty,gte=2000,lte=2600"`
	DepartmentID    *int64          `json:"department_id" binding:"omitempty,gt=0"`
	TotalBudget     *pgtype.Numeric `json:"total_budget"`
	Q1Budget        *pgtype.Numeric `json:"q1_budget"`
	Q2Budget        *pgtype.Numeric `json:"q2_budget"`
	Q3Budget        *pgtype.Numeric `json:"q3_budget"`
	Q4Budget        *pgtype.Numeric `json:"q4_budget"`
	TotalSpent      *pgtype.Numeric `json:"total_spent"`
	RemainingBudget *pgtype.Numeric `json:"remaining_budget"`
	IsActive        *bool           `json:"is_active"`
}

func (r UpdateRequest) Values() map[string]any {
	m := map[string]any{}
	crud.Put(m, "fiscal_year", r.FiscalYear)
	crud.Put(m, "department_id", r.DepartmentID)
	crud.Put(m, "total_budget", r.TotalBudget)
	crud.Put(m, "q1_budget", r.Q1Budget)
	crud.Put(m, "q2_budget", r.Q2Budget)
	crud.Put(m, "q3_budget", r.Q3Budget)
	crud.Put(m, "q4_budget", r.Q4Budget)
	crud.Put(m, "total_spent", r.TotalSpent)
	crud.Put(m, "remaining_budget", r.RemainingBudget)
	crud.Put(m, "is_active", r.IsActive)
	return m
}

var amounts = []string{
	"total_budget", "q1_budget", "q2_budget", "q3_budget", "q4_budget", "total_spent", "remaining_budget",
}

var Schema = crud.Schema{
	Resource:   rbac.ResBudgetAllocations,
	Label:      "Budget allocation",
	Table:      "budget_allocations",
	Columns:    append([]string{"fiscal_year", "department_id", "is_active"}, amounts...),
	Searchable: []string{"fiscal_year"},
	Sortable:   []string{"fiscal_year", "department_id", "total_budget", "total_spent", "remaining_budget"},
	Filters: []crud.Filter{
		{Column: "fiscal_year", Type: crud.Int, Range: true},
		{Column: "department_id", Type: crud.Int},
		{Column: "total_budget", Type: crud.Decimal, Range: true},
		{Column: "is_active", Type: crud.Bool},
	},
	NonNegative:   amounts,
	DropdownLabel: "fiscal_year",
	HasActive:     true,
}
