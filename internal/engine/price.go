// Package engine implements the matching core: pure pricing, match-type and
// fee computation shared by both book strategies, and the orchestration that
// locks, matches, and hands descriptors to the settlement queue.
package engine

import (
	"math"
	"math/big"

	"github.com/catallaxyz/matchd/internal/domain"
)

var bigScale = big.NewInt(domain.PriceScale)

// Price derives the 1e6-scaled execution price of an order. Buys price as
// collateral offered per token wanted, sells as collateral wanted per token
// offered. Degenerate orders (zero divisor) price at 0 and never cross.
func Price(o domain.Order) int64 {
	var num, den *big.Int
	if o.IsBuy() {
		num, den = o.MakerAmount, o.TakerAmount
	} else {
		num, den = o.TakerAmount, o.MakerAmount
	}
	if num == nil || den == nil || den.Sign() <= 0 {
		return 0
	}

	p := new(big.Int).Mul(num, bigScale)
	p.Quo(p, den)
	if !p.IsInt64() {
		return math.MaxInt64
	}
	return p.Int64()
}

// Complement returns the other outcome token. Collateral has no complement
// and maps to itself.
func Complement(t domain.TokenID) domain.TokenID {
	switch t {
	case domain.TokenOutcomeA:
		return domain.TokenOutcomeB
	case domain.TokenOutcomeB:
		return domain.TokenOutcomeA
	default:
		return t
	}
}

// DetermineMatchType classifies a taker/maker pair. Opposite sides swap
// directly; same-side pairs only combine when they target distinct,
// non-collateral outcome tokens (mint for buys, merge for sells).
func DetermineMatchType(taker, maker domain.Order) domain.MatchType {
	switch {
	case taker.Side != maker.Side:
		return domain.MatchComplementary
	case taker.TokenID == maker.TokenID,
		taker.IsCollateral(), maker.IsCollateral():
		return domain.MatchNone
	case taker.IsBuy():
		return domain.MatchMint
	default:
		return domain.MatchMerge
	}
}

// IsCrossing reports whether the taker can execute against the maker under
// the given match type.
//
// Complementary: a buying taker crosses when willing to pay at least the
// maker's ask; a selling taker when asking no more than the maker's bid.
// Mint: the two buy prices must sum to at most 1.0 so the pair funds a full
// token set. Merge: the two sell prices must sum to at least 1.0 so the
// merged set covers both asks.
func IsCrossing(taker, maker domain.Order, mt domain.MatchType) bool {
	tp, mp := Price(taker), Price(maker)
	if tp == 0 || mp == 0 {
		return false
	}

	switch mt {
	case domain.MatchComplementary:
		if taker.IsBuy() {
			return tp >= mp
		}
		return tp <= mp
	case domain.MatchMint:
		return tp+mp <= domain.PriceScale
	case domain.MatchMerge:
		return tp+mp >= domain.PriceScale
	default:
		return false
	}
}

// Crosses classifies a pair and checks the crossing condition in one call.
func Crosses(taker, maker domain.Order) (domain.MatchType, bool) {
	mt := DetermineMatchType(taker, maker)
	if mt == domain.MatchNone {
		return mt, false
	}
	return mt, IsCrossing(taker, maker, mt)
}

// TakingAmount converts a making amount into the proportional taking amount:
// taking = making * takerAmount / makerAmount.
func TakingAmount(making, makerAmount, takerAmount *big.Int) *big.Int {
	if makerAmount == nil || makerAmount.Sign() == 0 {
		return new(big.Int)
	}
	t := new(big.Int).Mul(making, takerAmount)
	return t.Quo(t, makerAmount)
}
