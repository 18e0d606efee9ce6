package service

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/docflow/internal/config"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"go.uber.org/fx"
)

type ResolverParam struct {
	fx.In

	Settings *config.SettingsHolder
}

type resolver struct {
	settings *config.SettingsHolder
}

func NewResolver(p ResolverParam) taxdomain.Resolver {
	return &resolver{settings: p.Settings}
}

// NewRatePolicy exposes the strict-rate switch to the calculator.
func NewRatePolicy(settings *config.SettingsHolder) RatePolicy {
	return settings
}

// Default returns the configured document tax setting.
func (r *resolver) Default() taxdomain.TaxConfiguration {
	s := r.settings.Get().Tax

	rate, err := decimal.NewFromString(s.DefaultRate)
	if err != nil {
		rate = taxdomain.Rate10
	}
	mode := taxdomain.TaxModeExclusive
	if taxdomain.TaxMode(strings.ToLower(s.DefaultTaxType)) == taxdomain.TaxModeInclusive {
		mode = taxdomain.TaxModeInclusive
	}
	rounding, err := ParseRoundingType(s.DefaultRounding)
	if err != nil {
		rounding = taxdomain.RoundingFloor
	}

	return taxdomain.TaxConfiguration{
		TaxType:      mode,
		TaxRate:      rate,
		RoundingType: rounding,
	}
}

// Resolve validates the supplied fields and fills the rest from Default.
func (r *resolver) Resolve(in taxdomain.TaxConfigurationInput) (taxdomain.TaxConfiguration, error) {
	cfg := r.Default()
	verr := &taxdomain.ValidationErrors{}

	if raw := strings.ToLower(strings.TrimSpace(in.TaxType)); raw != "" {
		switch taxdomain.TaxMode(raw) {
		case taxdomain.TaxModeExclusive, taxdomain.TaxModeInclusive:
			cfg.TaxType = taxdomain.TaxMode(raw)
		default:
			verr.Add(-1, "taxType", "invalid", "taxType must be inclusive or exclusive")
		}
	}

	if raw := strings.TrimSpace(in.TaxRate); raw != "" {
		rate, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			verr.Add(-1, "taxRate", "malformed", "taxRate is not a decimal number: "+raw)
		case rate.IsNegative():
			verr.Add(-1, "taxRate", "out_of_range", "taxRate must not be negative")
		default:
			cfg.TaxRate = rate
		}
	}

	if raw := strings.TrimSpace(in.RoundingType); raw != "" {
		rounding, err := ParseRoundingType(raw)
		if err != nil {
			verr.Add(-1, "roundingType", "invalid", "roundingType must be floor, ceil or round")
		} else {
			cfg.RoundingType = rounding
		}
	}

	if err := verr.ErrOrNil(); err != nil {
		return taxdomain.TaxConfiguration{}, err
	}
	return cfg, nil
}
