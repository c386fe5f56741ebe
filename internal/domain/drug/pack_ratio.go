// Package drug declares per-supplier pack ratios for drugs.
package drug

import (
	"time"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/jackc/pgx/v5/pgtype"
)

type PackRatio struct {
	ID          int64          `db:"id" json:"id"`
	DrugCode    string         `db:"drug_code" json:"drug_code"`
	CompanyID   int64          `db:"company_id" json:"company_id"`
	PackSize    int            `db:"pack_size" json:"pack_size"`
	PackUnit    string         `db:"pack_unit" json:"pack_unit"`
	UnitPerPack int            `db:"unit_per_pack" json:"unit_per_pack"`
	PackPrice   pgtype.Numeric `db:"pack_price" json:"pack_price"`
	IsDefault   bool           `db:"is_default" json:"is_default"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

func (p PackRatio) RecordID() int64 { return p.ID }

type CreateRequest struct {
	DrugCode    string         `json:"drug_code" binding:"required,max=24"`
	CompanyID   int64          `json:"company_id" binding:"required,gt=0"`
	PackSize    int            `json:"pack_size" binding:"required"`
	PackUnit    string         `json:"pack_unit" binding:"required,max=20"`
	UnitPerPack *int           `json:"unit_per_pack"`
	PackPrice   pgtype.Numeric `json:"pack_price"`
	IsDefault   bool           `json:"is_default"`
	IsActive    *bool          `json:"is_active"`
}

func (r CreateRequest) Values() map[string]any {
	return map[string]any{
		"drug_code":     r.DrugCode,
		"company_id":    r.CompanyID,
		"pack_size":     r.PackSize,
		"pack_unit":     r.PackUnit,
		"unit_per_pack": crud.OrDefault(r.UnitPerPack, 1),
		"pack_price":    crud.NullableAmount(r.PackPrice),
		"is_default":    r.IsDefault,
		"is_active":     crud.OrDefault(r.IsActive, true),
	}
}

type UpdateRequest struct {
	DrugCode    *string         `json:"drug_code" binding:"omitempty,min=1,max=24"`
	CompanyID   *int64          `json:"company_id" binding:"omitempty,gt=0"`
	PackSize    *int            `json:"pack_size"`
	PackUnit    *string         `json:"pack_unit" binding:"omitempty,min=1,max=20"`
	UnitPerPack *int            `json:"unit_per_pack"`
	PackPrice   *pgtype.Numeric `json:"pack_price"`
	IsDefault   *bool           `json:"is_default"`
	IsActive    *bool           `json:"is_active"`
}

func (r UpdateRequest) Values() map[string]any {
	m := map[string]any{}
	crud.Put(m, "drug_code", r.DrugCode)
	crud.Put(m, "company_id", r.CompanyID)
	crud.Put(m, "pack_size", r.PackSize)
	crud.Put(m, "pack_unit", r.PackUnit)
	crud.Put(m, "unit_per_pack", r.UnitPerPack)
	crud.Put(m, "pack_price", r.PackPrice)
	crud.Put(m, "is_default", r.IsDefault)
	crud.Put(m, "is_active", r.IsActive)
	return m
}

var Schema = crud.Schema{
	Resource: rbac.ResDrugPackRatios,
	Label:    "Drug pack ratio",
	Table:    "drug_pack_ratios",
	Columns: []string{
		"drug_code", "company_id", "pack_size", "pack_unit",
		"unit_per_pack", "pack_price", "is_default", "is_active",
	},
	Searchable: []string{"drug_code", "pack_unit"},
	Sortable:   []string{"drug_code", "pack_size", "pack_price"},
	Filters: []crud.Filter{
		{Column: "drug_code", Type: crud.Text},
		{Column: "company_id", Type: crud.Int},
		{Column: "is_default", Type: crud.Bool},
		{Column: "is_active", Type: crud.Bool},
	},
	NonNegative:   []string{"pack_size", "unit_per_pack", "pack_price"},
	DropdownLabel: "drug_code",
	HasActive:     true,
}
