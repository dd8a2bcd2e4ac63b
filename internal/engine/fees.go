package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/catallaxyz/matchd/internal/domain"
)

const centerPrice = domain.PriceScale / 2

// FeeEngine computes dynamic taker-fee rates and splits fees with exact
// integer conservation. The live configuration comes from an injected
// source; when the lookup fails for any reason the engine falls back to the
// embedded defaults so a config outage can never block matching.
type FeeEngine struct {
	source   domain.FeeConfigSource
	fallback domain.FeeConfig
	logger   *slog.Logger
}

// NewFeeEngine creates a FeeEngine. source may be nil, in which case the
// embedded defaults are always used.
func NewFeeEngine(source domain.FeeConfigSource, logger *slog.Logger) *FeeEngine {
	return &FeeEngine{
		source:   source,
		fallback: domain.DefaultFeeConfig(),
		logger:   logger.With(slog.String("component", "fee_engine")),
	}
}

// Config returns the live fee configuration, or the embedded defaults when
// the source is absent or failing. Lookup failures are logged at debug
// severity only; they are fully recovered locally.
func (f *FeeEngine) Config(ctx context.Context) domain.FeeConfig {
	if f.source == nil {
		return f.fallback
	}
	cfg, err := f.source.Fetch(ctx)
	if err != nil {
		f.logger.DebugContext(ctx, "fee config lookup failed, using defaults",
			slog.String("error", err.Error()),
		)
		return f.fallback
	}
	return cfg
}

// TakerRate returns the 1e6-scaled taker fee rate for an execution at the
// given price. Limit orders are fee-exempt by policy. For market orders the
// rate falls linearly from CenterRate at price 0.5 to ExtremeRate at the
// extremes, never below ExtremeRate.
func (f *FeeEngine) TakerRate(cfg domain.FeeConfig, price int64, kind domain.OrderKind) int64 {
	if kind == domain.KindLimit {
		return 0
	}
	return DynamicRate(cfg, price)
}

// DynamicRate is the piecewise-linear fee curve:
//
//	rate = centerRate - (centerRate - extremeRate) * |price - 0.5| / 0.5
//
// floored at extremeRate.
func DynamicRate(cfg domain.FeeConfig, price int64) int64 {
	distance := price - centerPrice
	if distance < 0 {
		distance = -distance
	}

	rateRange := cfg.CenterRate - cfg.ExtremeRate
	if rateRange < 0 {
		rateRange = 0
	}

	reduction := rateRange * distance / centerPrice
	rate := cfg.CenterRate - reduction
	if rate < cfg.ExtremeRate {
		rate = cfg.ExtremeRate
	}
	return rate
}

// Breakdown splits the fee on totalCost at the given rate. The platform
// component is the remainder after the maker rebate and creator incentive,
// so the three parts always sum to the taker fee exactly, no matter how the
// intermediate divisions round.
func (f *FeeEngine) Breakdown(cfg domain.FeeConfig, totalCost *big.Int, rate int64) domain.FeeBreakdown {
	if totalCost == nil || totalCost.Sign() <= 0 || rate <= 0 {
		return domain.ZeroFees()
	}

	takerFee := scaleByRate(totalCost, rate)
	makerRebate := scaleByRate(takerFee, cfg.MakerRebateShare)
	creatorFee := scaleByRate(takerFee, cfg.CreatorShare)

	platformFee := new(big.Int).Sub(takerFee, makerRebate)
	platformFee.Sub(platformFee, creatorFee)

	return domain.FeeBreakdown{
		TakerFee:    takerFee,
		MakerRebate: makerRebate,
		CreatorFee:  creatorFee,
		PlatformFee: platformFee,
	}
}

// scaleByRate computes value * rate / PriceScale in big.Int arithmetic.
func scaleByRate(value *big.Int, rate int64) *big.Int {
	r := new(big.Int).Mul(value, big.NewInt(rate))
	return r.Quo(r, bigScale)
}
