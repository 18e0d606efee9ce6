package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTaxMode      = errors.New("invalid_tax_mode")
	ErrInvalidTaxRate      = errors.New("invalid_tax_rate")
	ErrInvalidRoundingType = errors.New("invalid_rounding_type")
	ErrUnsupportedTaxRate  = errors.New("unsupported_tax_rate")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
)

// ValidationError names the offending item index (-1 for document-level fields) and field.
type ValidationError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("items[%d].%s: %s", e.Index, e.Field, e.Message)
}

// ValidationErrors collects every field problem found in one pass.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Error())
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) Unwrap() error { return ErrInvalidLineItem }

func (v *ValidationErrors) Add(index int, field, code, message string) {
	v.Errors = append(v.Errors, ValidationError{Index: index, Field: field, Code: code, Message: message})
}

// ErrOrNil returns nil when nothing was collected.
func (v *ValidationErrors) ErrOrNil() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

// UnsupportedRateError is returned in strict mode for a taxable item outside 8/10%.
type UnsupportedRateError struct {
	Index int
	Rate  string
}

func (e *UnsupportedRateError) Error() string {
	return fmt.Sprintf("items[%d]: tax rate %s%% is not supported", e.Index, e.Rate)
}

func (e *UnsupportedRateError) Unwrap() error { return ErrUnsupportedTaxRate }
