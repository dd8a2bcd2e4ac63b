package engine

import (
	"fmt"
	"strings"

	"github.com/catallaxyz/matchd/internal/domain"
)

// ValidationResult is the structured outcome of order validation. Invalid
// orders are a caller-correctable condition, not an error: nothing in the
// matching path ever receives an order that failed validation.
type ValidationResult struct {
	OK      bool
	Reasons []string
}

// Reason joins the violation list for logging and API responses.
func (r ValidationResult) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

// ValidateOrder checks the field invariants every order must satisfy before
// it may touch the matching core: fee rate within the cap, a known token id
// and side, and strictly positive amounts.
func ValidateOrder(o domain.Order) ValidationResult {
	var reasons []string

	if o.FeeRateBps > domain.MaxFeeRateBps {
		reasons = append(reasons, fmt.Sprintf("fee rate %d bps exceeds cap %d", o.FeeRateBps, domain.MaxFeeRateBps))
	}
	if o.TokenID > domain.TokenOutcomeB {
		reasons = append(reasons, fmt.Sprintf("unknown token id %d", o.TokenID))
	}
	if o.Side != domain.SideBuy && o.Side != domain.SideSell {
		reasons = append(reasons, fmt.Sprintf("unknown side %d", o.Side))
	}
	if o.MakerAmount == nil || o.MakerAmount.Sign() <= 0 {
		reasons = append(reasons, "maker amount must be positive")
	}
	if o.TakerAmount == nil || o.TakerAmount.Sign() <= 0 {
		reasons = append(reasons, "taker amount must be positive")
	}

	return ValidationResult{OK: len(reasons) == 0, Reasons: reasons}
}
