// Package inventory declares stock levels per drug and location.
package inventory

import (
	"time"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/jackc/pgx/v5/pgtype"
)

type Item struct {
	ID             int64          `db:"id" json:"id"`
	DrugCode       string         `db:"drug_code" json:"drug_code"`
	Location       string         `db:"location" json:"location"`
	QuantityOnHand int            `db:"quantity_on_hand" json:"quantity_on_hand"`
	MinLevel       int            `db:"min_level" json:"min_level"`
	MaxLevel       int            `db:"max_level" json:"max_level"`
	ReorderPoint   int            `db:"reorder_point" json:"reorder_point"`
	LastCost       pgtype.Numeric `db:"last_cost" json:"last_cost"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

func (i Item) RecordID() int64 { return i.ID }

type CreateRequest struct {
	DrugCode       string         `json:"drug_code" binding:"required,max=24"`
	Location       string         `json:"location" binding:"required,max=100"`
	QuantityOnHand int            `json:"quantity_on_hand"`
	MinLevel       int            `json:"min_level"`
	MaxLevel       int            `json:"max_level"`
	ReorderPoint   int            `json:"reorder_point"`
	LastCost       pgtype.Numeric `json:"last_cost"`
	IsActive       *bool          `json:"is_active"`
}

func (r CreateRequest) Values() map[string]any {
	return map[string]any{
		"drug_code":        r.DrugCode,
		"location":         r.Location,
		"quantity_on_hand": r.QuantityOnHand,
		"min_level":        r.MinLevel,
		"max_level":        r.MaxLevel,
		"reorder_point":    r.ReorderPoint,
		"last_cost":        crud.NullableAmount(r.LastCost),
		"is_active":        crud.OrDefault(r.IsActive, true),
	}
}

type UpdateRequest struct {
	DrugCode       *string         `json:"drug_code" binding:"omitempty,min=1,max=24"`
	Location       *string         `json:"location" binding:"omitempty,min=1,max=100"`
	QuantityOnHand *int            `json:"quantity_on_hand"`
	MinLevel       *int            `json:"min_level"`
	MaxLevel       *int            `json:"max_level"`
	ReorderPoint   *int            `json:"reorder_point"`
	LastCost       *pgtype.Numeric `json:"last_cost"`
	IsActive       *bool           `json:"is_active"`
}

func (r UpdateRequest) Values() map[string]any {
	m := map[string]any{}
	crud.Put(m, "drug_code", r.DrugCode)
	crud.Put(m, "location", r.Location)
	crud.Put(m, "quantity_on_hand", r.QuantityOnHand)
	crud.Put(m, "min_level", r.MinLevel)
	crud.Put(m, "max_level", r.MaxLevel)
	crud.Put(m, "reorder_point", r.ReorderPoint)
	crud.Put(m, "last_cost", r.LastCost)
	crud.Put(m, "is_active", r.IsActive)
	return m
}

var Schema = crud.Schema{
	Resource: rbac.ResInventory,
	Label:    "Inventory item",
	Table:    "inventory",
	Columns: []string{
		"drug_code", "location", "quantity_on_hand", "min_level",
		"max_level", "reorder_point", "last_cost", "is_active",
	},
	Searchable: []string{"drug_code", "location"},
	Sortable:   []string{"drug_code", "location", "quantity_on_hand", "reorder_point"},
	Filters: []crud.Filter{
		{Column: "drug_code", Type: crud.Text},
		{Column: "location", Type: crud.Text},
		{Column: "quantity_on_hand", Type: crud.Int, Range: true},
		{Column: "is_active", Type: crud.Bool},
	},
	NonNegative:   []string{"quantity_on_hand", "min_level", "max_level", "reorder_point", "last_cost"},
	DropdownLabel: "drug_code",
	// cost data is hidden from plain users
	RoleFields: map[string][]string{
		"admin":      {"*"},
		"manager":    {"*"},
		"finance":    {"*"},
		"pharmacist": {"*"},
		"user": {
			"drug_code", "location", "quantity_on_hand", "min_level",
			"max_level", "reorder_point", "is_active",
		},
	},
	HasActive: true,
}
