package crud_test

import (
	"encoding/json"
	"testing"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/domain/budget"
	"github.com/geocoder89/aegisapi/internal/domain/company"
	"github.com/geocoder89/aegisapi/internal/domain/contract"
	"github.com/geocoder89/aegisapi/internal/domain/drug"
	"github.com/geocoder89/aegisapi/internal/domain/inventory"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestDeclaredSchemasAreValid(t *testing.T) {
	for _, s := range []crud.Schema{
		company.Schema, budget.Schema, contract.Schema, drug.Schema, inventory.Schema,
	} {
		require.NoError(t, s.Validate(), s.Table)
	}
}

func TestRequestValuesAreWritable(t *testing.T) {
	cases := []struct {
		schema crud.Schema
		in     crud.Input
	}{
		{company.Schema, company.CreateRequest{CompanyCode: "C1", CompanyName: "Acme"}},
		{budget.Schema, budget.CreateRequest{FiscalYear: 2025, TotalBudget: amount(t, "100")}},
		{contract.Schema, contract.CreateRequest{ContractNumber: "K-1", CompanyID: 1, DrugCode: "D1"}},
		{drug.Schema, drug.CreateRequest{DrugCode: "D1", CompanyID: 1, PackSize: 10, PackUnit: "box"}},
		{inventory.Schema, inventory.CreateRequest{DrugCode: "D1", Location: "main"}},
	}
	for _, tc := range cases {
		vals := tc.in.Values()
		require.Len(t, vals, len(tc.schema.Columns), tc.schema.Table)
		for col := range vals {
			require.Contains(t, tc.schema.Columns, col, tc.schema.Table)
		}
	}
}

func amount(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	n, err := crud.ParseAmount(s)
	require.NoError(t, err)
	return n
}

func requireJSON(t *testing.T, want string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, want, string(b))
}

func TestCreateDefaults(t *testing.T) {
	b := budget.CreateRequest{FiscalYear: 2025, TotalBudget: amount(t, "100.10"), TotalSpent: amount(t, "30.05")}.Values()
	requireJSON(t, "70.05", b["remaining_budget"])
	requireJSON(t, "0", b["q1_budget"])
	require.Equal(t, true, b["is_active"])

	b = budget.CreateRequest{TotalBudget: amount(t, "100"), TotalSpent: amount(t, "30"), RemainingBudget: amount(t, "5")}.Values()
	requireJSON(t, "5", b["remaining_budget"])

	c := contract.CreateRequest{QuantityContracted: 12}.Values()
	require.Equal(t, 12, c["quantity_remaining"])

	requireJSON(t, "0", c["unit_price"])

	d := drug.CreateRequest{}.Values()
	require.Equal(t, 1, d["unit_per_pack"])
	require.Nil(t, d["pack_price"])

	i := inventory.CreateRequest{LastCost: amount(t, "2.75")}.Values()
	requireJSON(t, "2.75", i["last_cost"])
}

func TestMoneyRoundTripsThroughJSON(t *testing.T) {
	var in budget.CreateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"fiscal_year":2025,"total_budget":1234567.89,"total_spent":0.1}`), &in))

	vals := in.Values()
	requireJSON(t, "1234567.89", vals["total_budget"])
	requireJSON(t, "1234567.79", vals["remaining_budget"])
}

func TestSubAmountAndParseAmount(t *testing.T) {
	requireJSON(t, "-0.3", crud.SubAmount(amount(t, "0.1"), amount(t, "0.4")))
	requireJSON(t, "90", crud.SubAmount(amount(t, "100"), amount(t, "10")))
	requireJSON(t, "12.5", crud.SubAmount(amount(t, "12.5"), pgtype.Numeric{}))

	for _, bad := range []string{"", "abc", "NaN", "Infinity"} {
		_, err := crud.ParseAmount(bad)
		require.Error(t, err, bad)
	}
}
