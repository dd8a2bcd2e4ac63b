package domain

import "math/big"

// FeeConfig holds the five 1e6-scaled fee rates. The three shares split the
// taker fee; platform receives whatever the maker rebate and creator
// incentive leave behind, so the split always conserves the taker fee.
type FeeConfig struct {
	PlatformShare    int64 // share of taker fee kept by the platform
	MakerRebateShare int64 // share of taker fee rebated to makers
	CreatorShare     int64 // share of taker fee paid to the market creator
	CenterRate       int64 // taker fee rate at price 0.5
	ExtremeRate      int64 // taker fee rate at prices 0.0 and 1.0
}

// DefaultFeeConfig returns the embedded fallback rates used whenever the fee
// configuration source is unavailable: platform 75%, maker rebate 20%,
// creator 5%, center taker rate 3.2%, extreme taker rate 0.2%.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		PlatformShare:    750_000,
		MakerRebateShare: 200_000,
		CreatorShare:     50_000,
		CenterRate:       32_000,
		ExtremeRate:      2_000,
	}
}

// FeeBreakdown is the exact integer split of one fill's taker fee.
// Invariant: TakerFee == MakerRebate + CreatorFee + PlatformFee.
type FeeBreakdown struct {
	TakerFee    *big.Int
	MakerRebate *big.Int
	CreatorFee  *big.Int
	PlatformFee *big.Int
}

// ZeroFees returns a breakdown with all components set to zero.
func ZeroFees() FeeBreakdown {
	return FeeBreakdown{
		TakerFee:    new(big.Int),
		MakerRebate: new(big.Int),
		CreatorFee:  new(big.Int),
		PlatformFee: new(big.Int),
	}
}
