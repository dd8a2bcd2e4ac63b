package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/catallaxyz/matchd/internal/domain"
)

// Reaper returns orders stuck in the matching state to the live book. An
// order gets stuck when the process between claim and finalize dies; the
// match lock expires on its own, but the claimed orders do not.
type Reaper struct {
	orders   domain.OrderCache
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// DefaultReapInterval is how often the reaper scans for stuck orders.
const DefaultReapInterval = 30 * time.Second

// DefaultMaxMatchingAge is how long an order may sit in matching before it
// is considered abandoned. It must comfortably exceed the slowest expected
// settlement round-trip.
const DefaultMaxMatchingAge = 2 * time.Minute

// NewReaper creates a reaper. Non-positive interval or maxAge fall back to
// the defaults.
func NewReaper(orders domain.OrderCache, interval, maxAge time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxMatchingAge
	}
	return &Reaper{
		orders:   orders,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// Run scans on a ticker until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("max_matching_age", r.maxAge),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReapOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reap pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReapOnce reverts every order claimed before now-maxAge. Each revert is
// independent so one failure does not strand the rest.
func (r *Reaper) ReapOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.maxAge)

	stuck, err := r.orders.ListStuckMatching(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.WarnContext(ctx, "found stuck matching orders",
		slog.Int("count", len(stuck)),
		slog.Time("cutoff", cutoff),
	)

	reverted := 0
	for _, hash := range stuck {
		if err := r.orders.Revert(ctx, hash); err != nil {
			r.logger.ErrorContext(ctx, "revert stuck order",
				slog.String("order", hash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		reverted++
	}

	r.logger.InfoContext(ctx, "reap pass complete",
		slog.Int("stuck", len(stuck)),
		slog.Int("reverted", reverted),
	)
	return nil
}
