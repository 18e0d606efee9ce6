package domain

import "github.com/shopspring/decimal"

// RoundingFunc maps a fractional amount to a whole number.
type RoundingFunc func(decimal.Decimal) decimal.Decimal

// Calculator computes document totals from line items.
type Calculator interface {
	Calculate(items []LineItem, cfg TaxConfiguration) (MonetaryTotals, error)
	Split(items []LineItem) TaxBuckets
}

// Resolver fills a partial tax configuration from the configured defaults.
type Resolver interface {
	Default() TaxConfiguration
	Resolve(in TaxConfigurationInput) (TaxConfiguration, error)
}

// TaxConfigurationInput is the wire form; empty fields fall back to defaults.
type TaxConfigurationInput struct {
	TaxType      string `json:"taxType,omitempty"`
	TaxRate      string `json:"taxRate,omitempty"`
	RoundingType string `json:"roundingType,omitempty"`
}
