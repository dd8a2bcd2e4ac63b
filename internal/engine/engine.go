package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
)

// DefaultLockTTL bounds how long a crashed match attempt can block an
// order. Expiry, not explicit release, is the crash-safety mechanism.
const DefaultLockTTL = 5 * time.Second

// Engine matches incoming signed orders against the coordination-store book
// and bridges matches to the settlement queue. At most one match attempt
// per taker proceeds at a time, guaranteed by the per-order lock; maker
// safety comes from the atomic open→matching batch transition, which makes
// a claimed maker invisible to every later book query.
type Engine struct {
	book     OrderBook
	orders   domain.OrderCache
	cancels  domain.CancelStore
	locks    domain.LockManager
	queue    domain.SettlementQueue
	fees     *FeeEngine
	audit    domain.AuditStore
	notifier domain.Notifier
	coord    *breaker.Breaker
	logger   *slog.Logger
	lockTTL  time.Duration
}

// Options carries the engine's optional collaborators and tunables.
type Options struct {
	Audit    domain.AuditStore
	Notifier domain.Notifier
	LockTTL  time.Duration
}

// New assembles the engine. The breaker must be the same instance guarding
// the book's coordination-store access so the dependency trips as one unit.
func New(
	book OrderBook,
	orders domain.OrderCache,
	cancels domain.CancelStore,
	locks domain.LockManager,
	queue domain.SettlementQueue,
	fees *FeeEngine,
	coord *breaker.Breaker,
	logger *slog.Logger,
	opts Options,
) *Engine {
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Engine{
		book:     book,
		orders:   orders,
		cancels:  cancels,
		locks:    locks,
		queue:    queue,
		fees:     fees,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		coord:    coord,
		logger:   logger.With(slog.String("component", "engine")),
		lockTTL:  ttl,
	}
}

// TryMatch attempts to match a signed limit order. It returns true when a
// match descriptor was queued for settlement. Validation failures and lock
// contention return false without error: both are expected conditions, not
// faults. Limit orders are fee-exempt by policy.
func (e *Engine) TryMatch(ctx context.Context, order domain.Order, orderHash common.Hash) (bool, error) {
	return e.tryMatch(ctx, order, orderHash, domain.KindLimit)
}

// TryMatchMarket is TryMatch for aggressing market orders, which pay the
// dynamic taker fee.
func (e *Engine) TryMatchMarket(ctx context.Context, order domain.Order, orderHash common.Hash) (bool, error) {
	return e.tryMatch(ctx, order, orderHash, domain.KindMarket)
}

func (e *Engine) tryMatch(ctx context.Context, order domain.Order, orderHash common.Hash, kind domain.OrderKind) (bool, error) {
	if res := ValidateOrder(order); !res.OK {
		e.logger.DebugContext(ctx, "order rejected by validation",
			slog.String("order", orderHash.Hex()),
			slog.String("reason", res.Reason()),
		)
		return false, nil
	}
	if order.IsExpired(time.Now()) {
		e.logger.DebugContext(ctx, "order expired", slog.String("order", orderHash.Hex()))
		return false, nil
	}

	takerPrice := Price(order)
	if takerPrice <= 0 {
		return false, nil
	}

	// The per-order lock is the primary double-matching guard: exactly one
	// of two concurrent attempts on the same taker acquires it. Contention
	// is benign, try again later.
	var unlock func()
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		var aErr error
		unlock, aErr = e.locks.Acquire(ctx, "match:"+orderHash.Hex(), e.lockTTL)
		return aErr
	})
	if errors.Is(err, domain.ErrLockHeld) {
		e.logger.DebugContext(ctx, "match lock contended", slog.String("order", orderHash.Hex()))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("engine: acquire match lock: %w", err)
	}
	defer unlock()

	// Size the sweep from the taker's live remaining: a partially filled
	// taker must never be matched past what it has left.
	takerRemaining := order.TokenUnits()
	var takerRec domain.OrderRecord
	err = e.coord.Do(ctx, func(ctx context.Context) error {
		var gErr error
		takerRec, gErr = e.orders.Get(ctx, orderHash)
		return gErr
	})
	switch {
	case err == nil:
		if !takerRec.Fillable() {
			e.logger.DebugContext(ctx, "order no longer fillable", slog.String("order", orderHash.Hex()))
			return false, nil
		}
		takerRemaining = takerRec.Remaining
	case errors.Is(err, domain.ErrNotFound):
		// Not yet registered; the full amount is the remaining.
	default:
		return false, fmt.Errorf("engine: load taker %s: %w", orderHash.Hex(), err)
	}

	candidates, err := e.book.Candidates(ctx, order, orderHash, takerPrice)
	if err != nil {
		return false, err
	}

	proposals := accumulateFills(order, takerRemaining, takerPrice, candidates, domain.MaxMakersPerMatch)
	if len(proposals) == 0 {
		return false, nil
	}
	fills := e.fees.priceFills(ctx, order, orderHash, kind, proposals)

	makerHashes := make([]common.Hash, len(fills))
	fillAmounts := make([]*big.Int, len(fills))
	takerFill := new(big.Int)
	for i, fill := range fills {
		makerHashes[i] = fill.MakerHash
		fillAmounts[i] = fill.Size
		takerFill.Add(takerFill, fill.Size)
	}

	// Claim the taker and every matched maker in one atomic batch before
	// the lock is released. A maker stolen by a concurrent attempt on a
	// different taker fails the whole batch, leaving the book untouched.
	err = e.coord.Do(ctx, func(ctx context.Context) error {
		return e.orders.TransitionMatching(ctx, orderHash, makerHashes)
	})
	if errors.Is(err, domain.ErrOrderNotFillable) {
		e.logger.DebugContext(ctx, "matched orders no longer open",
			slog.String("order", orderHash.Hex()),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("engine: transition matching: %w", err)
	}

	desc := domain.MatchDescriptor{
		ID:          uuid.New().String(),
		TakerHash:   orderHash,
		MakerHashes: makerHashes,
		FillAmounts: fillAmounts,
		TakerFill:   takerFill,
		Market:      order.Market,
		TokenID:     order.TokenID,
		EnqueuedAt:  time.Now().UTC(),
	}

	err = e.coord.Do(ctx, func(ctx context.Context) error {
		return e.queue.Enqueue(ctx, desc)
	})
	if err != nil {
		// The orders are claimed but nothing will settle them; put them
		// back rather than leaving them stuck in matching.
		e.revertClaim(ctx, orderHash, makerHashes)
		return false, fmt.Errorf("engine: enqueue match: %w", err)
	}

	e.auditEvent(ctx, "match_enqueued", map[string]any{
		"match_id":   desc.ID,
		"taker":      orderHash.Hex(),
		"makers":     len(makerHashes),
		"taker_fill": takerFill.String(),
		"market":     order.Market,
	})
	e.notify(ctx, "match", "Match queued",
		fmt.Sprintf("taker %s matched %d makers for %s units in %s",
			orderHash.Hex(), len(makerHashes), takerFill, order.Market))

	e.logger.InfoContext(ctx, "match enqueued",
		slog.String("match_id", desc.ID),
		slog.String("taker", orderHash.Hex()),
		slog.Int("makers", len(makerHashes)),
		slog.String("taker_fill", takerFill.String()),
	)
	return true, nil
}

// revertClaim best-effort returns claimed orders to open after a failure
// between transition and enqueue.
func (e *Engine) revertClaim(ctx context.Context, taker common.Hash, makers []common.Hash) {
	for _, hash := range append([]common.Hash{taker}, makers...) {
		if err := e.orders.Revert(ctx, hash); err != nil {
			e.logger.ErrorContext(ctx, "revert after enqueue failure",
				slog.String("order", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// UpdateOrderStatuses applies the settlement worker's reported outcome:
// settled matches finalize every order to filled or partial, failed matches
// revert everything to open so liquidity is never silently lost.
func (e *Engine) UpdateOrderStatuses(ctx context.Context, desc domain.MatchDescriptor, outcome domain.SettlementOutcome, txRef string) error {
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		return e.orders.ApplyOutcome(ctx, desc, outcome, txRef)
	})
	if err != nil {
		return fmt.Errorf("engine: apply settlement outcome: %w", err)
	}

	detail := map[string]any{
		"match_id": desc.ID,
		"taker":    desc.TakerHash.Hex(),
		"outcome":  string(outcome),
	}
	if txRef != "" {
		detail["tx_ref"] = txRef
	}
	e.auditEvent(ctx, "match_"+string(outcome), detail)

	if outcome == domain.SettlementFailed {
		e.logger.ErrorContext(ctx, "settlement failed, orders reverted to open",
			slog.String("match_id", desc.ID),
			slog.String("taker", desc.TakerHash.Hex()),
		)
	}
	return nil
}

// GetPendingMatch pops the next descriptor off the settlement queue,
// returning nil when the queue is empty.
func (e *Engine) GetPendingMatch(ctx context.Context) (*domain.MatchDescriptor, error) {
	var desc domain.MatchDescriptor
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		var dErr error
		desc, dErr = e.queue.Dequeue(ctx)
		return dErr
	})
	if errors.Is(err, domain.ErrQueueEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: dequeue match: %w", err)
	}
	return &desc, nil
}

// AckMatch drops a finalized descriptor from the processing list.
func (e *Engine) AckMatch(ctx context.Context, desc domain.MatchDescriptor) error {
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		return e.queue.Ack(ctx, desc)
	})
	if err != nil {
		return fmt.Errorf("engine: ack match %s: %w", desc.ID, err)
	}
	return nil
}

// RecoverInFlight returns descriptors a dead worker left on the processing
// list to the pending queue.
func (e *Engine) RecoverInFlight(ctx context.Context) (int, error) {
	var recovered int
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		var rErr error
		recovered, rErr = e.queue.Recover(ctx)
		return rErr
	})
	if err != nil {
		return recovered, fmt.Errorf("engine: recover in-flight matches: %w", err)
	}
	return recovered, nil
}

// FailMatch parks a descriptor on the failed queue for later re-drive. The
// engine never retries settlement inline.
func (e *Engine) FailMatch(ctx context.Context, desc domain.MatchDescriptor) error {
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		return e.queue.Fail(ctx, desc)
	})
	if err != nil {
		return fmt.Errorf("engine: fail match %s: %w", desc.ID, err)
	}
	return nil
}

// RequeueFailedMatch moves a failed descriptor back onto the pending queue.
func (e *Engine) RequeueFailedMatch(ctx context.Context, desc domain.MatchDescriptor) error {
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		return e.queue.Requeue(ctx, desc)
	})
	if err != nil {
		return fmt.Errorf("engine: requeue match %s: %w", desc.ID, err)
	}
	e.auditEvent(ctx, "match_requeued", map[string]any{"match_id": desc.ID})
	return nil
}

// CancelOrder runs the atomic cancellation transaction: ownership check,
// funds unlock, book removal, cancelled mark, and audit append happen as
// one indivisible operation in the coordination store, so a concurrent
// match attempt can never interleave with it.
func (e *Engine) CancelOrder(ctx context.Context, req domain.CancelRequest) (domain.CancelResult, error) {
	var res domain.CancelResult
	err := e.coord.Do(ctx, func(ctx context.Context) error {
		var cErr error
		res, cErr = e.cancels.Cancel(ctx, req)
		return cErr
	})
	if err != nil {
		return domain.CancelResult{}, err
	}

	e.notify(ctx, "cancel", "Order cancelled",
		fmt.Sprintf("order %s cancelled, unlocked %s", req.OrderHash.Hex(), res.UnlockedAmount))

	e.logger.InfoContext(ctx, "order cancelled",
		slog.String("order", req.OrderHash.Hex()),
		slog.String("unlocked", res.UnlockedAmount.String()),
	)
	return res, nil
}

// auditEvent is fire-and-forget: audit failures are logged and swallowed,
// never surfaced into the match path.
func (e *Engine) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notify is equally best-effort.
func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.DebugContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
