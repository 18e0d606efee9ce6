package service

import (
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type CalculatorParam struct {
	fx.In

	Log    *zap.Logger
	Policy RatePolicy
}

// RatePolicy decides what happens to taxable items outside the 8/10% rates.
type RatePolicy interface {
	StrictRates() bool
}

type Calculator struct {
	log    *zap.Logger
	policy RatePolicy
}

func NewCalculator(p CalculatorParam) *Calculator {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{
		log:    log.Named("tax.calculator"),
		policy: p.Policy,
	}
}

// Split accumulates the subtotal and the unrounded taxable base per rate.
func (c *Calculator) Split(items []taxdomain.LineItem) taxdomain.TaxBuckets {
	buckets := taxdomain.TaxBuckets{
		Subtotal:  decimal.Zero,
		Taxable8:  decimal.Zero,
		Taxable10: decimal.Zero,
	}
	for i, item := range items {
		amount := item.Amount
		buckets.Subtotal = buckets.Subtotal.Add(amount)

		if item.TaxType != taxdomain.ItemTaxable {
			continue
		}
		switch {
		case item.TaxRate.Equal(taxdomain.Rate8):
			buckets.Taxable8 = buckets.Taxable8.Add(amount)
		case item.TaxRate.Equal(taxdomain.Rate10):
			buckets.Taxable10 = buckets.Taxable10.Add(amount)
		default:
			buckets.Dropped = append(buckets.Dropped, i)
		}
	}
	return buckets
}

// Calculate computes the totals of a document. Rounding is applied once per
// rate bucket after summation, never per line.
func (c *Calculator) Calculate(items []taxdomain.LineItem, cfg taxdomain.TaxConfiguration) (taxdomain.MonetaryTotals, error) {
	buckets := c.Split(items)

	if len(buckets.Dropped) > 0 {
		if c.strict() {
			idx := buckets.Dropped[0]
			return taxdomain.MonetaryTotals{}, &taxdomain.UnsupportedRateError{
				Index: idx,
				Rate:  items[idx].TaxRate.String(),
			}
		}
		for _, idx := range buckets.Dropped {
			c.log.Warn("taxable item excluded from tax: unsupported rate",
				zap.Int("item_index", idx),
				zap.String("tax_rate", items[idx].TaxRate.String()),
			)
		}
	}

	round := ResolveRounding(cfg.RoundingType)
	tax8 := round(buckets.Taxable8.Mul(taxdomain.Rate8).Div(hundred))
	tax10 := round(buckets.Taxable10.Mul(taxdomain.Rate10).Div(hundred))
	taxAmount := tax8.Add(tax10)

	return taxdomain.MonetaryTotals{
		Subtotal:    buckets.Subtotal,
		TaxAmount:   taxAmount,
		TaxAmount8:  tax8,
		TaxAmount10: tax10,
		TotalAmount: buckets.Subtotal.Add(taxAmount),
	}, nil
}

func (c *Calculator) strict() bool {
	return c.policy != nil && c.policy.StrictRates()
}

var _ taxdomain.Calculator = (*Calculator)(nil)
