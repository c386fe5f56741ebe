// Package company declares the companies catalogue served by the generic CRUD stack.
package company

import (
	"time"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/rbac"
)

type Company struct {
	ID                int64     `db:"id" json:"id"`
	CompanyCode       string    `db:"company_code" json:"company_code"`
	CompanyName       string    `db:"company_name" json:"company_name"`
	TaxID             *string   `db:"tax_id" json:"tax_id"`
	Email             *string   `db:"email" json:"email"`
	Phone             *string   `db:"phone" json:"phone"`
	BankAccountNumber *string   `db:"bank_account_number" json:"bank_account_number"`
	BankAccountName   *string   `db:"bank_account_name" json:"bank_account_name"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

func (c Company) RecordID() int64 { return c.ID }

type CreateRequest struct {
	CompanyCode       string  `json:"company_code" binding:"required,max=20"`
	CompanyName       string  `json:"company_name" binding:"required,max=255"`
	TaxID             *string `json:"tax_id" binding:"omitempty,max=20"`
	Email             *string `json:"email" binding:"omitempty,max=255"`
	Phone             *string `json:"phone" binding:"omitempty,max=50"`
	BankAccountNumber *string `json:"bank_account_number" binding:"omitempty,max=50"`
	BankAccountName   *string `json:"bank_account_name" binding:"omitempty,max=255"`
	IsActive          *bool   `json:"is_active"`
}

func (r CreateRequest) Values() map[string]any {
	return map[string]any{
		"company_code":        r.CompanyCode,
		"company_name":        r.CompanyName,
		"tax_id":              crud.Nullable(r.TaxID),
		"email":               crud.Nullable(r.Email),
		"phone":               crud.Nullable(r.Phone),
		"bank_account_number": crud.Nullable(r.BankAccountNumber),
		"bank_account_name":   crud.Nullable(r.BankAccountName),
		"is_active":           crud.OrDefault(r.IsActive, true),
	}
}

type UpdateRequest struct {
	CompanyCode       *string `json:"company_code" binding:"omitempty,min=1,max=20"`
	CompanyName       *string `json:"company_name" binding:"omitempty,min=1,max=255"`
	TaxID             *string `json:"tax_id" binding:"omitempty,max=20"`
	Email             *string `json:"email" binding:"omitempty,max=255"`
	Phone             *string `json:"phone" binding:"omitempty,max=50"`
	BankAccountNumber *string `json:"bank_account_number" binding:"omitempty,max=50"`
	BankAccountName   *string `json:"bank_account_name" binding:"omitempty,max=255"`
	IsActive          *bool   `json:"is_active"`
}

func (r UpdateRequest) Values() map[string]any {
	m := map[string]any{}
	crud.Put(m, "company_code", r.CompanyCode)
	crud.Put(m, "company_name", r.CompanyName)
	crud.Put(m, "tax_id", r.TaxID)
	crud.Put(m, "email", r.Email)
	crud.Put(m, "phone", r.Phone)
	crud.Put(m, "bank_account_number", r.BankAccountNumber)
	crud.Put(m, "bank_account_name", r.BankAccountName)
	crud.Put(m, "is_active", r.IsActive)
	return m
}

var publicFields = []string{"company_code", "company_name", "email", "phone", "is_active"}

var Schema = crud.Schema{
	Resource: rbac.ResCompanies,
	Label:    "Company",
	Table:    "companies",
	Columns: []string{
		"company_code", "company_name", "tax_id", "email", "phone",
		"bank_account_number", "bank_account_name", "is_active",
	},
	Searchable: []string{"company_code", "company_name", "tax_id", "email"},
	Sortable:   []string{"company_code", "company_name", "is_active"},
	Filters: []crud.Filter{
		{Column: "company_code", Type: crud.Text},
		{Column: "is_active", Type: crud.Bool},
	},
	Unique: []string{"company_code"},
	Emails: []string{"email"},
	References: []crud.Reference{
		{Table: "contract_items", Field: "company_id"},
		{Table: "drug_pack_ratios", Field: "company_id"},
	},
	DropdownLabel: "company_name",
	// bank details stay with finance and management
	RoleFields: map[string][]string{
		"admin":      {"*"},
		"manager":    {"*"},
		"finance":    {"*"},
		"pharmacist": publicFields,
		"user":       publicFields,
	},
	HasActive: true,
}
