package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
)

// Decimal places stored for each line item column.
const (
	quantityPlaces = 4
	moneyPlaces    = 2
	ratePlaces     = 2
)

// ParseLineItems validates wire items and converts them to decimals.
// All problems are collected and returned as one *ValidationErrors.
// An empty list is valid.
func ParseLineItems(inputs []taxdomain.LineItemInput, cfg taxdomain.TaxConfiguration) ([]taxdomain.LineItem, error) {
	verr := &taxdomain.ValidationErrors{}
	items := make([]taxdomain.LineItem, 0, len(inputs))
	seenOrder := make(map[int]int, len(inputs))

	for i, in := range inputs {
		item := taxdomain.LineItem{
			Name:         strings.TrimSpace(in.Name),
			Unit:         trimOptional(in.Unit),
			Remarks:      trimOptional(in.Remarks),
			DisplayOrder: i + 1,
		}
		if item.Name == "" {
			verr.Add(i, "name", "required", "name is required")
		}

		qty, qtyOK := parseDecimal(verr, i, "quantity", in.Quantity, true, quantityPlaces)
		if qtyOK && !qty.IsPositive() {
			verr.Add(i, "quantity", "out_of_range", "quantity must be greater than 0")
		}
		item.Quantity = qty

		price, priceOK := parseDecimal(verr, i, "unitPrice", in.UnitPrice, true, moneyPlaces)
		if priceOK && price.IsNegative() {
			verr.Add(i, "unitPrice", "out_of_range", "unitPrice must not be negative")
		}
		item.UnitPrice = price

		item.TaxType = defaultItemTaxType(cfg.TaxType)
		if raw := strings.TrimSpace(in.TaxType); raw != "" {
			taxType, err := parseItemTaxType(raw)
			if err != nil {
				verr.Add(i, "taxType", "invalid", "taxType must be taxable, non-taxable or tax-included")
			}
			item.TaxType = taxType
		}

		item.TaxRate = cfg.TaxRate
		if strings.TrimSpace(in.TaxRate) != "" {
			rate, ok := parseDecimal(verr, i, "taxRate", in.TaxRate, false, ratePlaces)
			if ok && rate.IsNegative() {
				verr.Add(i, "taxRate", "out_of_range", "taxRate must not be negative")
			}
			item.TaxRate = rate
		}

		if strings.TrimSpace(in.Amount) != "" {
			amount, ok := parseDecimal(verr, i, "amount", in.Amount, false, moneyPlaces)
			if ok && amount.IsNegative() {
				verr.Add(i, "amount", "out_of_range", "amount must not be negative")
			}
			// Supplied amounts are trusted as-is; no reconciliation with quantity x unitPrice.
			item.Amount = amount
		} else {
			item.Amount = item.Quantity.Mul(item.UnitPrice)
			if qtyOK && priceOK && !fitsPlaces(item.Amount, moneyPlaces) {
				verr.Add(i, "amount", "too_precise",
					fmt.Sprintf("quantity x unitPrice is %s; supply an amount with at most %d decimal places", item.Amount, moneyPlaces))
			}
		}

		if in.DisplayOrder != nil {
			if *in.DisplayOrder <= 0 {
				verr.Add(i, "displayOrder", "out_of_range", "displayOrder must be positive")
			}
			item.DisplayOrder = *in.DisplayOrder
		}
		if prev, dup := seenOrder[item.DisplayOrder]; dup {
			verr.Add(i, "displayOrder", "duplicate", "displayOrder duplicates items["+strconv.Itoa(prev)+"]")
		}
		seenOrder[item.DisplayOrder] = i

		items = append(items, item)
	}

	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

func parseDecimal(verr *taxdomain.ValidationErrors, index int, field, raw string, required bool, places int32) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			verr.Add(index, field, "required", field+" is required")
		}
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		verr.Add(index, field, "malformed", field+" is not a decimal number: "+raw)
		return decimal.Zero, false
	}
	if !fitsPlaces(value, places) {
		verr.Add(index, field, "too_precise", fmt.Sprintf("%s allows at most %d decimal places: %s", field, places, raw))
		return value, false
	}
	return value, true
}

// fitsPlaces reports whether value needs no more than places decimal
// places. Trailing zeros do not count.
func fitsPlaces(value decimal.Decimal, places int32) bool {
	return value.Equal(value.Truncate(places))
}

func parseItemTaxType(raw string) (taxdomain.ItemTaxType, error) {
	switch taxdomain.ItemTaxType(strings.ToLower(strings.TrimSpace(raw))) {
	case taxdomain.ItemTaxable:
		return taxdomain.ItemTaxable, nil
	case taxdomain.ItemNonTaxable:
		return taxdomain.ItemNonTaxable, nil
	case taxdomain.ItemTaxIncluded:
		return taxdomain.ItemTaxIncluded, nil
	default:
		return "", taxdomain.ErrInvalidLineItem
	}
}

func defaultItemTaxType(mode taxdomain.TaxMode) taxdomain.ItemTaxType {
	if mode == taxdomain.TaxModeInclusive {
		return taxdomain.ItemTaxIncluded
	}
	return taxdomain.ItemTaxable
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
