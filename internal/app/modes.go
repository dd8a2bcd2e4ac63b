package app

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/catallaxyz/matchd/internal/crypto"
	"github.com/catallaxyz/matchd/internal/domain"
	"github.com/catallaxyz/matchd/internal/engine"
	"github.com/catallaxyz/matchd/internal/settlement"
)

// intakeWait bounds each blocking pop so the loop notices cancellation.
const intakeWait = time.Second

// EngineMode consumes submitted orders from the intake queue and matches
// each one through the configured book strategy.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("mode", "engine"))
	durable := strings.ToLower(a.cfg.Engine.Strategy) == "durable"

	logger.InfoContext(ctx, "matching loop started",
		slog.String("strategy", a.cfg.Engine.Strategy),
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		order, signature, kind, err := deps.Intake.Next(ctx, intakeWait)
		if errors.Is(err, domain.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorContext(ctx, "intake pop failed", slog.String("error", err.Error()))
			continue
		}

		hash, err := crypto.HashOrder(order)
		if err != nil {
			logger.ErrorContext(ctx, "unhashable order dropped", slog.String("error", err.Error()))
			continue
		}

		if durable {
			a.matchDurable(ctx, deps, order, hash, kind, logger)
			continue
		}
		a.matchCoordination(ctx, deps, order, hash, signature, kind, logger)
	}
}

// matchCoordination registers the order in the coordination store and runs
// the lock-claim-enqueue pipeline. Market orders that fail to match
// immediately are cancelled rather than left resting.
func (a *App) matchCoordination(ctx context.Context, deps *Dependencies, order domain.Order, hash common.Hash, signature string, kind domain.OrderKind, logger *slog.Logger) {
	rec := domain.OrderRecord{
		Hash:      hash,
		Order:     order,
		Signature: signature,
		State:     domain.StateOpen,
		Price:     engine.Price(order),
		Filled:    big.NewInt(0),
		Remaining: new(big.Int).Set(order.TokenUnits()),
		CreatedAt: time.Now().UTC(),
	}
	switch err := deps.OrderCache.Put(ctx, rec); {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyExists):
		// Redelivered order. The stored record keeps its lifecycle state;
		// the match attempt below rejects it if it is no longer fillable.
		logger.DebugContext(ctx, "order already registered",
			slog.String("order", rec.Hash.Hex()),
		)
	default:
		logger.ErrorContext(ctx, "register order failed",
			slog.String("order", rec.Hash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	var matched bool
	var err error
	if kind == domain.KindMarket {
		matched, err = deps.Engine.TryMatchMarket(ctx, order, rec.Hash)
	} else {
		matched, err = deps.Engine.TryMatch(ctx, order, rec.Hash)
	}
	if err != nil {
		logger.ErrorContext(ctx, "match attempt failed",
			slog.String("order", rec.Hash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	if !matched && kind == domain.KindMarket {
		_, err := deps.Engine.CancelOrder(ctx, domain.CancelRequest{
			OrderHash: rec.Hash,
			UserID:    order.Maker,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			logger.ErrorContext(ctx, "cancel unmatched market order",
				slog.String("order", rec.Hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// matchDurable runs the immediate-application strategy against PostgreSQL.
func (a *App) matchDurable(ctx context.Context, deps *Dependencies, order domain.Order, hash common.Hash, kind domain.OrderKind, logger *slog.Logger) {
	fills, err := deps.DurableMatcher.MatchOrder(ctx, order, hash, kind)
	if err != nil {
		logger.ErrorContext(ctx, "durable match failed",
			slog.Int("applied", len(fills)),
			slog.String("error", err.Error()),
		)
	}
}

// WorkerMode runs the settlement worker against the pending queue.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	worker := settlement.NewWorker(
		deps.Engine,
		settlement.NoopSettler{},
		deps.SettleBreaker,
		a.logger,
		settlement.WorkerOptions{
			Archiver:     deps.Archiver,
			PollInterval: a.cfg.Settlement.PollInterval.Duration,
		},
	)
	return worker.Run(ctx)
}

// ReaperMode runs the stuck-order reaper.
func (a *App) ReaperMode(ctx context.Context, deps *Dependencies) error {
	reaper := settlement.NewReaper(
		deps.OrderCache,
		a.cfg.Settlement.ReapInterval.Duration,
		a.cfg.Settlement.MaxMatchingAge.Duration,
		a.logger,
	)
	return reaper.Run(ctx)
}

// FullMode runs the matching loop, settlement worker, and reaper together;
// the first to fail cancels the rest.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.EngineMode(ctx, deps) })
	g.Go(func() error { return a.WorkerMode(ctx, deps) })
	g.Go(func() error { return a.ReaperMode(ctx, deps) })
	return g.Wait()
}
