package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
)

// DurableOrderBook sources candidates from the relational store: the whole
// open opposite side of the book, best price first with creation-time
// tie-breaks. Store access goes through the relational-store breaker.
type DurableOrderBook struct {
	store   domain.OrderStore
	breaker *breaker.Breaker
}

// NewDurableOrderBook creates the durable-store book strategy.
func NewDurableOrderBook(store domain.OrderStore, brk *breaker.Breaker) *DurableOrderBook {
	return &DurableOrderBook{store: store, breaker: brk}
}

// Candidates loads every open opposite-side order for the taker's market
// and outcome, excluding the taker itself. Rows that are exhausted,
// expired, or restricted to a different taker are dropped here so the
// shared fill loop only ever sees fillable candidates.
func (b *DurableOrderBook) Candidates(ctx context.Context, taker domain.Order, takerHash common.Hash, takerPrice int64) ([]Candidate, error) {
	q := domain.BookQuery{
		Market:  taker.Market,
		TokenID: taker.TokenID,
		Side:    taker.Side.Opposite(),
	}

	var rows []domain.OrderRow
	err := b.breaker.Do(ctx, func(ctx context.Context) error {
		var qErr error
		rows, qErr = b.store.ListOpenBook(ctx, q, takerHash)
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("engine: durable book query: %w", err)
	}

	now := time.Now()
	cands := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		if !row.Fillable() || row.Order.IsExpired(now) {
			continue
		}
		if !row.Order.IsPublic() && row.Order.Taker != taker.Maker {
			continue
		}
		cands = append(cands, Candidate{
			Hash:      row.Hash,
			Order:     row.Order,
			Remaining: row.Remaining,
			Price:     Price(row.Order),
			Version:   row.Version,
			CreatedAt: row.CreatedAt,
		})
	}
	return cands, nil
}

var _ OrderBook = (*DurableOrderBook)(nil)
