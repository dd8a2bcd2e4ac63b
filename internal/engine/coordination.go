package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
)

// CoordinationOrderBook sources candidates from the coordination store's
// price-keyed book structure. Unlike the durable strategy it never loads a
// whole book side: one bounded range query returns at most
// domain.MaxMakersPerMatch crossing hashes, whose records are then fetched
// and screened individually.
type CoordinationOrderBook struct {
	books   domain.BookCache
	orders  domain.OrderCache
	breaker *breaker.Breaker
}

// NewCoordinationOrderBook creates the coordination-store book strategy.
func NewCoordinationOrderBook(books domain.BookCache, orders domain.OrderCache, brk *breaker.Breaker) *CoordinationOrderBook {
	return &CoordinationOrderBook{books: books, orders: orders, breaker: brk}
}

// Candidates range-queries the opposite book for crossing prices. A buying
// taker scans asks priced up to its limit; a selling taker scans bids
// priced down to its limit. Records that left the open state between the
// range query and the fetch are skipped, not errors: a concurrent match
// moving a maker to matching simply makes it invisible here.
func (b *CoordinationOrderBook) Candidates(ctx context.Context, taker domain.Order, takerHash common.Hash, takerPrice int64) ([]Candidate, error) {
	q := domain.BookQuery{
		Market:  taker.Market,
		TokenID: taker.TokenID,
		Side:    taker.Side.Opposite(),
	}

	minPrice, maxPrice := int64(0), takerPrice
	if taker.IsSell() {
		minPrice, maxPrice = takerPrice, domain.PriceScale
	}

	var hashes []common.Hash
	err := b.breaker.Do(ctx, func(ctx context.Context) error {
		var qErr error
		hashes, qErr = b.books.Crossing(ctx, q, minPrice, maxPrice, domain.MaxMakersPerMatch, takerHash)
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("engine: coordination book query: %w", err)
	}

	now := time.Now()
	cands := make([]Candidate, 0, len(hashes))
	for _, hash := range hashes {
		var rec domain.OrderRecord
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var gErr error
			rec, gErr = b.orders.Get(ctx, hash)
			return gErr
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("engine: fetch candidate %s: %w", hash.Hex(), err)
		}

		if !rec.Fillable() || rec.Order.IsExpired(now) {
			continue
		}
		if !rec.Order.IsPublic() && rec.Order.Taker != taker.Maker {
			continue
		}
		cands = append(cands, Candidate{
			Hash:      hash,
			Order:     rec.Order,
			Remaining: rec.Remaining,
			Price:     rec.Price,
			CreatedAt: rec.CreatedAt,
		})
	}
	return cands, nil
}

var _ OrderBook = (*CoordinationOrderBook)(nil)
