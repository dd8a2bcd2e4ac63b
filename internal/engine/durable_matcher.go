package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
)

// DurableMatcher is the durable-store matching strategy. Instead of the
// lock-claim-enqueue pipeline it applies each fill immediately through the
// store's atomic fill procedure; the procedure's row locking and version
// check are the double-matching guard on this path.
type DurableMatcher struct {
	book     *DurableOrderBook
	store    domain.OrderStore
	fees     *FeeEngine
	breaker  *breaker.Breaker
	audit    domain.AuditStore
	notifier domain.Notifier
	logger   *slog.Logger
}

// NewDurableMatcher creates the durable-store matcher. The breaker must be
// the relational-store breaker shared with the book.
func NewDurableMatcher(
	book *DurableOrderBook,
	store domain.OrderStore,
	fees *FeeEngine,
	brk *breaker.Breaker,
	logger *slog.Logger,
	opts Options,
) *DurableMatcher {
	return &DurableMatcher{
		book:     book,
		store:    store,
		fees:     fees,
		breaker:  brk,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		logger:   logger.With(slog.String("component", "durable_matcher")),
	}
}

// MatchOrder matches a taker against the durable book and applies every
// resulting fill. There is no maker cap on this path: the loop runs until
// the taker is exhausted or candidates run out. Returns the fills that were
// durably applied.
func (m *DurableMatcher) MatchOrder(ctx context.Context, order domain.Order, orderHash common.Hash, kind domain.OrderKind) ([]domain.Fill, error) {
	if res := ValidateOrder(order); !res.OK {
		m.logger.DebugContext(ctx, "order rejected by validation",
			slog.String("order", orderHash.Hex()),
			slog.String("reason", res.Reason()),
		)
		return nil, nil
	}
	if order.IsExpired(time.Now()) {
		return nil, nil
	}
	takerPrice := Price(order)
	if takerPrice <= 0 {
		return nil, nil
	}

	takerRow, err := m.takerRow(ctx, order, orderHash)
	if err != nil {
		return nil, err
	}
	if !takerRow.Fillable() {
		return nil, nil
	}

	candidates, err := m.book.Candidates(ctx, order, orderHash, takerPrice)
	if err != nil {
		return nil, err
	}

	proposals := accumulateFills(order, takerRow.Remaining, takerPrice, candidates, 0)
	if len(proposals) == 0 {
		return nil, nil
	}
	fills := m.fees.priceFills(ctx, order, orderHash, kind, proposals)

	takerVersion := takerRow.Version
	applied := make([]domain.Fill, 0, len(fills))
	for i, fill := range fills {
		app := domain.FillApplication{
			TakerHash:    fill.TakerHash,
			MakerHash:    fill.MakerHash,
			Size:         fill.Size,
			Price:        fill.Price,
			Fees:         fill.Fees,
			TakerVersion: takerVersion,
			MakerVersion: proposals[i].cand.Version,
		}

		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			return m.store.ApplyFill(ctx, app)
		})
		if errors.Is(err, domain.ErrVersionConflict) {
			// A concurrent writer touched the maker between the snapshot
			// and the write. Skip this maker; the taker keeps whatever it
			// already got.
			m.logger.WarnContext(ctx, "fill lost version race",
				slog.String("maker", fill.MakerHash.Hex()),
			)
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("engine: apply fill: %w", err)
		}

		// Every applied fill bumps the taker row's version.
		takerVersion++
		applied = append(applied, fill)
		m.afterFill(ctx, fill)
	}
	return applied, nil
}

// takerRow loads the taker's durable row, inserting a fresh one for an
// order the store has never seen.
func (m *DurableMatcher) takerRow(ctx context.Context, order domain.Order, orderHash common.Hash) (domain.OrderRow, error) {
	var row domain.OrderRow
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var gErr error
		row, gErr = m.store.GetByHash(ctx, orderHash)
		return gErr
	})
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.OrderRow{}, fmt.Errorf("engine: load taker %s: %w", orderHash.Hex(), err)
	}

	row = domain.OrderRow{
		Hash:      orderHash,
		Order:     order,
		State:     domain.StateOpen,
		Remaining: order.TokenUnits(),
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	err = m.breaker.Do(ctx, func(ctx context.Context) error {
		return m.store.Insert(ctx, row)
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.OrderRow{}, fmt.Errorf("engine: insert taker %s: %w", orderHash.Hex(), err)
	}
	return row, nil
}

// afterFill dispatches the fire-and-forget side effects of one applied
// fill. Neither audit nor notification failure affects the fill.
func (m *DurableMatcher) afterFill(ctx context.Context, fill domain.Fill) {
	if m.audit != nil {
		err := m.audit.Log(ctx, "fill_applied", map[string]any{
			"taker":     fill.TakerHash.Hex(),
			"maker":     fill.MakerHash.Hex(),
			"market":    fill.Market,
			"price":     fill.Price,
			"size":      fill.Size.String(),
			"taker_fee": fill.Fees.TakerFee.String(),
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if m.notifier != nil {
		msg := fmt.Sprintf("fill %s @ %.6f in %s", fill.Size, float64(fill.Price)/domain.PriceScale, fill.Market)
		if err := m.notifier.Notify(ctx, "fill", "Fill applied", msg); err != nil {
			m.logger.DebugContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}
