package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/catallaxyz/matchd/internal/domain"
)

// Candidate is one resting maker order considered for a fill.
type Candidate struct {
	Hash      common.Hash
	Order     domain.Order
	Remaining *big.Int // outcome-token units, snapshot at query time
	Price     int64
	Version   int64 // durable-store row version; zero on the coordination path
	CreatedAt time.Time
}

// OrderBook yields crossing candidates for a taker, best price first. The
// two implementations differ only in book representation: DurableOrderBook
// loads the full opposite side from the relational store,
// CoordinationOrderBook range-queries the price-keyed structure with a hard
// candidate cap. Both are deterministic for a fixed book snapshot.
type OrderBook interface {
	Candidates(ctx context.Context, taker domain.Order, takerHash common.Hash, takerPrice int64) ([]Candidate, error)
}

// proposedFill is a fill before fee computation.
type proposedFill struct {
	cand Candidate
	size *big.Int
}

// accumulateFills walks candidates best-first and sizes each fill at
// min(taker remaining, maker remaining), stopping once the taker is
// exhausted. takerRemaining is the taker's live remaining size, which for a
// partially filled taker is smaller than the order's face amount; a nil
// value falls back to the full amount. Candidates that no longer cross the
// taker's limit price or have nothing left are skipped. The result never
// overfills: fill sizes sum to at most takerRemaining and each is capped by
// that maker's remaining at snapshot time.
func accumulateFills(taker domain.Order, takerRemaining *big.Int, takerPrice int64, candidates []Candidate, maxMakers int) []proposedFill {
	if takerRemaining == nil {
		takerRemaining = taker.TokenUnits()
	}
	remaining := new(big.Int).Set(takerRemaining)
	var fills []proposedFill

	for _, cand := range candidates {
		if remaining.Sign() <= 0 {
			break
		}
		if maxMakers > 0 && len(fills) >= maxMakers {
			break
		}
		if cand.Remaining == nil || cand.Remaining.Sign() <= 0 {
			continue
		}
		if !crossesLimit(taker, takerPrice, cand.Price) {
			continue
		}

		size := new(big.Int).Set(remaining)
		if size.Cmp(cand.Remaining) > 0 {
			size.Set(cand.Remaining)
		}

		fills = append(fills, proposedFill{cand: cand, size: size})
		remaining.Sub(remaining, size)
	}

	return fills
}

// crossesLimit enforces the taker's limit constraint against one candidate
// price: buys execute at or below the limit, sells at or above.
func crossesLimit(taker domain.Order, takerPrice, candPrice int64) bool {
	if candPrice <= 0 {
		return false
	}
	if taker.IsBuy() {
		return candPrice <= takerPrice
	}
	return candPrice >= takerPrice
}

// priceFills attaches execution prices, costs, and fee breakdowns. Fills
// execute at the resting maker's price; the taker fee is computed per fill
// since the dynamic rate depends on each execution price.
func (f *FeeEngine) priceFills(ctx context.Context, taker domain.Order, takerHash common.Hash, kind domain.OrderKind, proposals []proposedFill) []domain.Fill {
	cfg := f.Config(ctx)

	fills := make([]domain.Fill, 0, len(proposals))
	for _, p := range proposals {
		cost := new(big.Int).Mul(p.size, big.NewInt(p.cand.Price))
		cost.Quo(cost, bigScale)

		rate := f.TakerRate(cfg, p.cand.Price, kind)

		fills = append(fills, domain.Fill{
			TakerHash: takerHash,
			MakerHash: p.cand.Hash,
			Taker:     taker.Maker,
			Maker:     p.cand.Order.Maker,
			Market:    taker.Market,
			TokenID:   taker.TokenID,
			TakerSide: taker.Side,
			Type:      domain.MatchComplementary,
			Price:     p.cand.Price,
			Size:      p.size,
			Cost:      cost,
			Fees:      f.Breakdown(cfg, cost, rate),
		})
	}
	return fills
}
