// Package domain holds the line-item and tax types shared by every document type.
package domain

import (
	"github.com/shopspring/decimal"
)

// ItemTaxType is the per-line tax treatment.
type ItemTaxType string

const (
	ItemTaxable     ItemTaxType = "taxable"
	ItemNonTaxable  ItemTaxType = "non-taxable"
	ItemTaxIncluded ItemTaxType = "tax-included"
)

// TaxMode tells whether item prices already include tax.
type TaxMode string

const (
	TaxModeExclusive TaxMode = "exclusive"
	TaxModeInclusive TaxMode = "inclusive"
)

// RoundingType selects how fractional tax is rounded to whole yen.
type RoundingType string

const (
	RoundingFloor RoundingType = "floor"
	RoundingCeil  RoundingType = "ceil"
	RoundingRound RoundingType = "round"
)

// Recognized consumption tax rates, in percent.
// These are ENGINE-CONSTANTS: stored documents bucket on them.
var (
	Rate8  = decimal.NewFromInt(8)
	Rate10 = decimal.NewFromInt(10)
)

// TaxConfiguration is the document-level tax setting.
type TaxConfiguration struct {
	TaxType      TaxMode         `json:"taxType"`
	TaxRate      decimal.Decimal `json:"taxRate"`
	RoundingType RoundingType    `json:"roundingType"`
}

// LineItem is one billable row. Amount is always populated after parsing.
type LineItem struct {
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         *string         `json:"unit,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TaxType      ItemTaxType     `json:"taxType"`
	TaxRate      decimal.Decimal `json:"taxRate"`
	Amount       decimal.Decimal `json:"amount"`
	Remarks      *string         `json:"remarks,omitempty"`
	DisplayOrder int             `json:"displayOrder"`
}

// LineItemInput is the wire form of a line item. Numeric fields are decimal strings.
type LineItemInput struct {
	Name         string  `json:"name"`
	Quantity     string  `json:"quantity"`
	Unit         *string `json:"unit,omitempty"`
	UnitPrice    string  `json:"unitPrice"`
	TaxType      string  `json:"taxType,omitempty"`
	TaxRate      string  `json:"taxRate,omitempty"`
	Amount       string  `json:"amount,omitempty"`
	Remarks      *string `json:"remarks,omitempty"`
	DisplayOrder *int    `json:"displayOrder,omitempty"`
}

// MonetaryTotals is the persisted money snapshot of a document.
// decimal.Decimal marshals as a JSON string, so totals never round-trip through float64.
type MonetaryTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	TaxAmount8  decimal.Decimal `json:"taxAmount8"`
	TaxAmount10 decimal.Decimal `json:"taxAmount10"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Equal compares totals by value, ignoring decimal exponent differences.
func (t MonetaryTotals) Equal(o MonetaryTotals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.TaxAmount.Equal(o.TaxAmount) &&
		t.TaxAmount8.Equal(o.TaxAmount8) &&
		t.TaxAmount10.Equal(o.TaxAmount10) &&
		t.TotalAmount.Equal(o.TotalAmount)
}

// TaxBuckets are the unrounded taxable bases per rate.
type TaxBuckets struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Taxable8  decimal.Decimal `json:"taxable8"`
	Taxable10 decimal.Decimal `json:"taxable10"`
	// Dropped lists indexes of taxable items whose rate is neither 8 nor 10.
	Dropped []int `json:"dropped,omitempty"`
}
