// Package settlement drives queued match descriptors to their final
// outcome and reclaims orders stranded by dead workers.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
	"github.com/catallaxyz/matchd/internal/engine"
)

// Settler executes one match on the settlement backend and returns a
// transaction reference.
type Settler interface {
	Settle(ctx context.Context, desc domain.MatchDescriptor) (string, error)
}

// DefaultPollInterval is how long the worker sleeps on an empty queue.
const DefaultPollInterval = 250 * time.Millisecond

// Worker pops match descriptors off the settlement queue one at a time and
// applies their outcome. A failed settlement reverts the orders to open and
// parks the descriptor on the failed queue; there is no inline retry.
type Worker struct {
	engine   *engine.Engine
	settler  Settler
	breaker  *breaker.Breaker
	archiver domain.MatchArchiver
	logger   *slog.Logger
	poll     time.Duration
}

// WorkerOptions carries the worker's optional collaborators and tunables.
type WorkerOptions struct {
	Archiver     domain.MatchArchiver
	PollInterval time.Duration
}

// NewWorker creates a settlement worker. The breaker guards the settlement
// backend, not the queue: queue access goes through the engine.
func NewWorker(eng *engine.Engine, settler Settler, brk *breaker.Breaker, logger *slog.Logger, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Worker{
		engine:   eng,
		settler:  settler,
		breaker:  brk,
		archiver: opts.Archiver,
		logger:   logger.With(slog.String("component", "settlement_worker")),
		poll:     poll,
	}
}

// Run processes the queue until the context is cancelled. Descriptors a
// previous worker claimed but never finalized are returned to the pending
// queue first.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "settlement worker started",
		slog.Duration("poll_interval", w.poll),
	)

	recovered, err := w.engine.RecoverInFlight(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "recover in-flight matches", slog.String("error", err.Error()))
	} else if recovered > 0 {
		w.logger.InfoContext(ctx, "recovered in-flight matches", slog.Int("count", recovered))
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "settlement worker stopping")
			return ctx.Err()
		default:
		}

		desc, err := w.engine.GetPendingMatch(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "dequeue failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.poll)
			continue
		}
		if desc == nil {
			w.sleep(ctx, w.poll)
			continue
		}

		w.ProcessOne(ctx, *desc)
	}
}

// ProcessOne settles a single descriptor and applies its outcome. Errors
// are terminal for the descriptor, not the worker: the failed path reverts
// orders and parks the descriptor for operator re-drive.
func (w *Worker) ProcessOne(ctx context.Context, desc domain.MatchDescriptor) {
	start := time.Now()

	var txRef string
	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		var sErr error
		txRef, sErr = w.settler.Settle(ctx, desc)
		return sErr
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "settlement failed",
			slog.String("match_id", desc.ID),
			slog.String("taker", desc.TakerHash.Hex()),
			slog.String("error", err.Error()),
		)
		w.fail(ctx, desc)
		return
	}

	if err := w.engine.UpdateOrderStatuses(ctx, desc, domain.SettlementSettled, txRef); err != nil {
		// Settled on the backend but the coordination store could not be
		// finalized; the reaper will reconcile the stuck orders. Parking the
		// descriptor keeps a durable record for the operator.
		w.logger.ErrorContext(ctx, "finalize after settlement failed",
			slog.String("match_id", desc.ID),
			slog.String("tx_ref", txRef),
			slog.String("error", err.Error()),
		)
		w.fail(ctx, desc)
		return
	}

	if err := w.engine.AckMatch(ctx, desc); err != nil {
		// The descriptor stays on the processing list; a restart re-drives
		// it and the finalize script rejects the already finalized orders,
		// parking the descriptor for the operator.
		w.logger.WarnContext(ctx, "ack settled match failed",
			slog.String("match_id", desc.ID),
			slog.String("error", err.Error()),
		)
	}

	w.archive(ctx, desc, txRef)

	w.logger.InfoContext(ctx, "match settled",
		slog.String("match_id", desc.ID),
		slog.String("taker", desc.TakerHash.Hex()),
		slog.String("tx_ref", txRef),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// fail reverts the match's orders to open and parks the descriptor on the
// failed queue.
func (w *Worker) fail(ctx context.Context, desc domain.MatchDescriptor) {
	if err := w.engine.UpdateOrderStatuses(ctx, desc, domain.SettlementFailed, ""); err != nil {
		w.logger.ErrorContext(ctx, "revert failed match",
			slog.String("match_id", desc.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := w.engine.FailMatch(ctx, desc); err != nil {
		w.logger.ErrorContext(ctx, "park failed match",
			slog.String("match_id", desc.ID),
			slog.String("error", err.Error()),
		)
	}
}

// archive is best-effort cold storage of settled matches.
func (w *Worker) archive(ctx context.Context, desc domain.MatchDescriptor, txRef string) {
	if w.archiver == nil {
		return
	}
	if err := w.archiver.ArchiveSettled(ctx, desc, txRef); err != nil {
		w.logger.WarnContext(ctx, "archive settled match failed",
			slog.String("match_id", desc.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NoopSettler acknowledges every match without touching a backend. Used in
// environments where settlement is recorded off-process.
type NoopSettler struct{}

func (NoopSettler) Settle(_ context.Context, desc domain.MatchDescriptor) (string, error) {
	return fmt.Sprintf("noop:%s", desc.ID), nil
}

var _ Settler = NoopSettler{}
