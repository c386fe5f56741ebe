// Package contract declares the line items of supplier contracts.
package contract

import (
	"time"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/jackc/pgx/v5/pgtype"
)

type Item struct {
	ID                 int64          `db:"id" json:"id"`
	ContractNumber     string         `db:"contract_number" json:"contract_number"`
	CompanyID          int64          `db:"company_id" json:"company_id"`
	DrugCode           string         `db:"drug_code" json:"drug_code"`
	Description        *string        `db:"description" json:"description"`
	UnitPrice          pgtype.Numeric `db:"unit_price" json:"unit_price"`
	QuantityContracted int            `db:"quantity_contracted" json:"quantity_contracted"`
	QuantityRemaining  int            `db:"quantity_remaining" json:"quantity_remaining"`
	IsActive           bool           `db:"is_active" json:"is_active"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

func (i Item) RecordID() int64 { return i.ID }

type CreateRequest struct {
	ContractNumber     string         `json:"contract_number" binding:"required,max=50"`
	CompanyID          int64          `json:"company_id" binding:"required,gt=0"`
	DrugCode           string         `json:"drug_code" binding:"required,max=24"`
	Description        *string        `json:"description"`
	UnitPrice          pgtype.Numeric `json:"unit_price"`
	QuantityContracted int            `json:"quantity_contracted"`
	QuantityRemaining  *int           `json:"quantity_remaining"`
	IsActive           *bool          `json:"is_active"`
}

// Values starts quantity_remaining at the contracted quantity unless given.
func (r CreateRequest) Values() map[string]any {
	return map[string]any{
		"contract_number":     r.ContractNumber,
		"company_id":          r.CompanyID,
		"drug_code":           r.DrugCode,
		"description":         crud.Nullable(r.Description),
		"unit_price":          crud.ZeroIfNull(r.UnitPrice),
		"quantity_contracted": r.QuantityContracted,
		"quantity_remaining":  crud.OrDefault(r.QuantityRemaining, r.QuantityContracted),
		"is_active":           crud.OrDefault(r.IsActive, true),
	}
}

type UpdateRequest struct {
	ContractNumber     *string         `json:"contract_number" binding:"omitempty,min=1,max=50"`
	CompanyID          *int64          `json:"company_id" binding:"omitempty,gt=0"`
	DrugCode           *string         `json:"drug_code" binding:"omitempty,min=1,max=24"`
	Description        *string         `json:"description"`
	UnitPrice          *pgtype.Numeric `json:"unit_price"`
	QuantityContracted *int            `json:"quantity_contracted"`
	QuantityRemaining  *int            `json:"quantity_remaining"`
	IsActive           *bool           `json:"is_active"`
}

func (r UpdateRequest) Values() map[string]any {
	m := map[string]any{}
	crud.Put(m, "contract_number", r.ContractNumber)
	crud.Put(m, "company_id", r.CompanyID)
	crud.Put(m, "drug_code", r.DrugCode)
	crud.Put(m, "description", r.Description)
	crud.Put(m, "unit_price", r.UnitPrice)
	crud.Put(m, "quantity_contracted", r.QuantityContracted)
	crud.Put(m, "quantity_remaining", r.QuantityRemaining)
	crud.Put(m, "is_active", r.IsActive)
	return m
}

var Schema = crud.Schema{
	Resource: rbac.ResContractItems,
	Label:    "Contract item",
	Table:    "contract_items",
	Columns: []string{
		"contract_number", "company_id", "drug_code", "description",
		"unit_price", "quantity_contracted", "quantity_remaining", "is_active",
	},
	Searchable: []string{"contract_number", "drug_code", "description"},
	Sortable:   []string{"contract_number", "drug_code", "unit_price", "quantity_remaining"},
	Filters: []crud.Filter{
		{Column: "contract_number", Type: crud.Text},
		{Column: "company_id", Type: crud.Int},
		{Column: "drug_code", Type: crud.Text},
		{Column: "unit_price", Type: crud.Decimal, Range: true},
		{Column: "is_active", Type: crud.Bool},
	},
	NonNegative:   []string{"unit_price", "quantity_contracted", "quantity_remaining"},
	DropdownLabel: "contract_number",
	HasActive:     true,
}
