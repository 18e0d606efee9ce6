package service

import (
	"strings"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
)

// ResolveRounding returns the rounding function for a policy name.
// Unknown names fall back to floor, the legacy default.
//
// round is half away from zero (2.5 -> 3, -2.5 -> -3), the same convention as math.Round.
func ResolveRounding(policy taxdomain.RoundingType) taxdomain.RoundingFunc {
	switch policy {
	case taxdomain.RoundingCeil:
		return func(x decimal.Decimal) decimal.Decimal { return x.Ceil() }
	case taxdomain.RoundingRound:
		return func(x decimal.Decimal) decimal.Decimal { return x.Round(0) }
	default:
		return func(x decimal.Decimal) decimal.Decimal { return x.Floor() }
	}
}

// ParseRoundingType validates a policy name. Empty input is not accepted here;
// callers apply their default first.
func ParseRoundingType(raw string) (taxdomain.RoundingType, error) {
	switch taxdomain.RoundingType(strings.ToLower(strings.TrimSpace(raw))) {
	case taxdomain.RoundingFloor:
		return taxdomain.RoundingFloor, nil
	case taxdomain.RoundingCeil:
		return taxdomain.RoundingCeil, nil
	case taxdomain.RoundingRound:
		return taxdomain.RoundingRound, nil
	default:
		return "", taxdomain.ErrInvalidRoundingType
	}
}
