package service

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticRatePolicy bool

func (p staticRatePolicy) StrictRates() bool { return bool(p) }

func newTestCalculator(strict bool) *Calculator {
	return NewCalculator(CalculatorParam{Log: zap.NewNop(), Policy: staticRatePolicy(strict)})
}

func item(qty, price string, taxType taxdomain.ItemTaxType, rate int64) taxdomain.LineItem {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	return taxdomain.LineItem{
		Name:      "line",
		Quantity:  q,
		UnitPrice: p,
		TaxType:   taxType,
		TaxRate:   decimal.NewFromInt(rate),
		Amount:    q.Mul(p),
	}
}

func cfgWith(rounding taxdomain.RoundingType) taxdomain.TaxConfiguration {
	return taxdomain.TaxConfiguration{
		TaxType:      taxdomain.TaxModeExclusive,
		TaxRate:      taxdomain.Rate10,
		RoundingType: rounding,
	}
}

func TestCalculate_MixedTaxableAndNonTaxable(t *testing.T) {
	calc := newTestCalculator(false)
	items := []taxdomain.LineItem{
		item("2", "5000", taxdomain.ItemTaxable, 10),
		item("1", "3000", taxdomain.ItemNonTaxable, 0),
	}

	totals, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	assert.Equal(t, "13000", totals.Subtotal.String())
	assert.Equal(t, "1000", totals.TaxAmount10.String())
	assert.Equal(t, "0", totals.TaxAmount8.String())
	assert.Equal(t, "1000", totals.TaxAmount.String())
	assert.Equal(t, "14000", totals.TotalAmount.String())
}

func TestCalculate_RoundingPolicies(t *testing.T) {
	cases := []struct {
		name     string
		price    string
		rounding taxdomain.RoundingType
		wantTax  string
	}{
		{name: "floor fraction", price: "3333", rounding: taxdomain.RoundingFloor, wantTax: "333"},
		{name: "ceil fraction", price: "3333", rounding: taxdomain.RoundingCeil, wantTax: "334"},
		{name: "round down", price: "3333", rounding: taxdomain.RoundingRound, wantTax: "333"},
		{name: "round half", price: "3335", rounding: taxdomain.RoundingRound, wantTax: "334"},
		{name: "floor half", price: "3335", rounding: taxdomain.RoundingFloor, wantTax: "333"},
		{name: "ceil exact", price: "5000", rounding: taxdomain.RoundingCeil, wantTax: "500"},
	}

	calc := newTestCalculator(false)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := calc.Calculate([]taxdomain.LineItem{
				item("1", tc.price, taxdomain.ItemTaxable, 10),
			}, cfgWith(tc.rounding))
			require.NoError(t, err)

			assert.Equal(t, tc.wantTax, totals.TaxAmount10.String())
			assert.Equal(t, tc.wantTax, totals.TaxAmount.String())
			assert.True(t, totals.TotalAmount.Equal(totals.Subtotal.Add(totals.TaxAmount)))
		})
	}
}

func TestCalculate_RoundsPerBucketNotPerLine(t *testing.T) {
	calc := newTestCalculator(false)
	items := []taxdomain.LineItem{
		item("1", "5", taxdomain.ItemTaxable, 10),
		item("1", "5", taxdomain.ItemTaxable, 10),
		item("1", "5", taxdomain.ItemTaxable, 10),
	}

	totals, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	// 15 x 10% = 1.5 -> 1. Per-line flooring would have produced 0.
	assert.Equal(t, "1", totals.TaxAmount10.String())
}

func TestCalculate_SplitsEightAndTenPercent(t *testing.T) {
	calc := newTestCalculator(false)
	items := []taxdomain.LineItem{
		item("1", "1255", taxdomain.ItemTaxable, 8),
		item("3", "1000", taxdomain.ItemTaxable, 10),
		item("1", "2200", taxdomain.ItemTaxIncluded, 10),
	}

	totals, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	assert.Equal(t, "6455", totals.Subtotal.String())
	assert.Equal(t, "100", totals.TaxAmount8.String())
	assert.Equal(t, "300", totals.TaxAmount10.String())
	assert.True(t, totals.TaxAmount.Equal(totals.TaxAmount8.Add(totals.TaxAmount10)))
	assert.Equal(t, "6855", totals.TotalAmount.String())
}

func TestCalculate_TaxIncludedIsNotDecomposed(t *testing.T) {
	calc := newTestCalculator(false)
	totals, err := calc.Calculate([]taxdomain.LineItem{
		item("1", "1100", taxdomain.ItemTaxIncluded, 10),
	}, cfgWith(taxdomain.RoundingRound))
	require.NoError(t, err)

	assert.Equal(t, "1100", totals.Subtotal.String())
	assert.True(t, totals.TaxAmount.IsZero())
	assert.Equal(t, "1100", totals.TotalAmount.String())
}

func TestCalculate_EmptyItemsYieldZeroTotals(t *testing.T) {
	calc := newTestCalculator(false)
	totals, err := calc.Calculate(nil, cfgWith(taxdomain.RoundingCeil))
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.TaxAmount.IsZero())
	assert.True(t, totals.TaxAmount8.IsZero())
	assert.True(t, totals.TaxAmount10.IsZero())
	assert.True(t, totals.TotalAmount.IsZero())
}

func TestCalculate_UnsupportedRateDroppedInCompatibilityMode(t *testing.T) {
	calc := newTestCalculator(false)
	items := []taxdomain.LineItem{
		item("1", "1000", taxdomain.ItemTaxable, 5),
		item("1", "1000", taxdomain.ItemTaxable, 10),
	}

	totals, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	assert.Equal(t, "2000", totals.Subtotal.String())
	assert.Equal(t, "100", totals.TaxAmount.String())
	assert.Equal(t, []int{0}, calc.Split(items).Dropped)
}

func TestCalculate_UnsupportedRateRejectedInStrictMode(t *testing.T) {
	calc := newTestCalculator(true)
	items := []taxdomain.LineItem{
		item("1", "1000", taxdomain.ItemTaxable, 10),
		item("1", "1000", taxdomain.ItemTaxable, 5),
	}

	_, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.Error(t, err)
	assert.ErrorIs(t, err, taxdomain.ErrUnsupportedTaxRate)

	var rateErr *taxdomain.UnsupportedRateError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 1, rateErr.Index)
	assert.Equal(t, "5", rateErr.Rate)
}

func TestCalculate_NonTaxableWithOddRateIsFine(t *testing.T) {
	calc := newTestCalculator(true)
	_, err := calc.Calculate([]taxdomain.LineItem{
		item("1", "1000", taxdomain.ItemNonTaxable, 5),
	}, cfgWith(taxdomain.RoundingFloor))
	assert.NoError(t, err)
}

func TestCalculate_SubtotalIsExactDecimalSum(t *testing.T) {
	calc := newTestCalculator(false)
	items := make([]taxdomain.LineItem, 0, 10)
	want := decimal.Zero
	for i := 0; i < 10; i++ {
		it := item("0.1", "0.3", taxdomain.ItemNonTaxable, 0)
		items = append(items, it)
		want = want.Add(it.Amount)
	}

	totals, err := calc.Calculate(items, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.Equal(want))
	assert.Equal(t, "0.3", totals.Subtotal.String())
}

func TestCalculate_SuppliedAmountIsTrusted(t *testing.T) {
	calc := newTestCalculator(false)
	it := item("2", "5000", taxdomain.ItemTaxable, 10)
	it.Amount = decimal.NewFromInt(9000)

	totals, err := calc.Calculate([]taxdomain.LineItem{it}, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	assert.Equal(t, "9000", totals.Subtotal.String())
	assert.Equal(t, "900", totals.TaxAmount10.String())
}

func TestCalculate_SuppliedZeroAmountIsTrusted(t *testing.T) {
	cfg := cfgWith(taxdomain.RoundingFloor)
	items, err := ParseLineItems([]taxdomain.LineItemInput{
		{Name: "Complimentary", Quantity: "2", UnitPrice: "5000", TaxType: "taxable", TaxRate: "10", Amount: "0"},
		{Name: "Paid", Quantity: "1", UnitPrice: "1000", TaxType: "taxable", TaxRate: "10"},
	}, cfg)
	require.NoError(t, err)
	require.True(t, items[0].Amount.IsZero())

	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Amount)
	}

	totals, err := newTestCalculator(false).Calculate(items, cfg)
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.Equal(sum))
	assert.Equal(t, "1000", totals.Subtotal.String())
	assert.Equal(t, "100", totals.TaxAmount10.String())
	assert.Equal(t, "1100", totals.TotalAmount.String())
}

func TestCalculate_IsDeterministic(t *testing.T) {
	calc := newTestCalculator(false)
	items := []taxdomain.LineItem{
		item("3", "3333", taxdomain.ItemTaxable, 10),
		item("7", "129", taxdomain.ItemTaxable, 8),
		item("1", "500", taxdomain.ItemNonTaxable, 0),
	}
	cfg := cfgWith(taxdomain.RoundingRound)

	first, err := calc.Calculate(items, cfg)
	require.NoError(t, err)
	second, err := calc.Calculate(items, cfg)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.True(t, first.Equal(second))
}

func TestMonetaryTotals_MarshalAsDecimalStrings(t *testing.T) {
	calc := newTestCalculator(false)
	totals, err := calc.Calculate([]taxdomain.LineItem{
		item("2", "5000", taxdomain.ItemTaxable, 10),
		item("1", "3000", taxdomain.ItemNonTaxable, 0),
	}, cfgWith(taxdomain.RoundingFloor))
	require.NoError(t, err)

	raw, err := json.Marshal(totals)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"subtotal": "13000",
		"taxAmount": "1000",
		"taxAmount8": "0",
		"taxAmount10": "1000",
		"totalAmount": "14000"
	}`, string(raw))
}
