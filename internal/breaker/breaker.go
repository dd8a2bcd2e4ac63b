// Package breaker implements a per-dependency circuit breaker. Each external
// dependency gets its own breaker with thresholds sized to its blast radius;
// an open breaker fails fast with domain.ErrCircuitOpen instead of blocking
// on a timeout, so callers can tell isolation from a genuine downstream
// failure.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/catallaxyz/matchd/internal/domain"
)

// State is the breaker's position in its lifecycle.
type State string

const (
	// StateClosed passes calls through while counting consecutive failures.
	StateClosed State = "closed"
	// StateOpen fails fast until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a single trial call test the dependency.
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned (wrapped with the breaker name) when a call is
// rejected without invoking the dependency.
var ErrOpen = domain.ErrCircuitOpen

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold int
	// SuccessThreshold is the half-open success count that closes it again.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial.
	ResetTimeout time.Duration
}

// CoordinationStoreConfig suits the hot-path coordination store: it sits on
// every match attempt, so it trips fast and retries quickly.
func CoordinationStoreConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 10 * time.Second}
}

// RelationalStoreConfig suits the durable store, which tolerates more
// transient noise before isolation is worth it.
func RelationalStoreConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, ResetTimeout: 30 * time.Second}
}

// SettlementConfig suits the external settlement layer, whose outages tend
// to be long; retrying too eagerly just burns descriptors into the failed
// queue.
func SettlementConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 1, ResetTimeout: time.Minute}
}

// Snapshot is a point-in-time view of breaker state for introspection.
type Snapshot struct {
	Name        string
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// Breaker guards one external dependency.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	trialActive bool

	now func() time.Time // overridable in tests
}

// New creates a closed breaker for the named dependency.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "breaker"), slog.String("dependency", name)),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Do runs op through the breaker. When open, it returns immediately with
// domain.ErrCircuitOpen wrapped with the breaker name; the dependency is
// never invoked. Benign domain sentinels count as successful calls: an
// empty queue, a contended lock, or a stale order proves the dependency
// answered, and must never trip the breaker.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// benignSentinels are expected outcomes reported through the error return:
// the dependency is healthy, the caller just did not get what it asked for.
var benignSentinels = []error{
	domain.ErrLockHeld,
	domain.ErrQueueEmpty,
	domain.ErrOrderNotFillable,
	domain.ErrNotFound,
	domain.ErrAlreadyExists,
	domain.ErrVersionConflict,
	domain.ErrNotOrderOwner,
	domain.ErrOrderTerminal,
}

// isFailure reports whether an op result should count against the
// dependency. Caller-side cancellation is not a dependency fault either.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, sentinel := range benignSentinels {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// allow decides whether a call may proceed, transitioning open → half-open
// after the reset timeout.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return fmt.Errorf("breaker %s: %w", b.name, ErrOpen)
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.trialActive = true
		b.logger.Info("breaker half-open, allowing trial call")
		return nil
	default: // half-open
		if b.trialActive {
			// One trial at a time.
			return fmt.Errorf("breaker %s: %w", b.name, ErrOpen)
		}
		b.trialActive = true
		return nil
	}
}

// record books the call outcome and drives state transitions.
func (b *Breaker) record(err error) {
	if !isFailure(err) {
		err = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialActive = false
		if err != nil {
			b.state = StateOpen
			b.failures = b.cfg.FailureThreshold
			b.lastFailure = b.now()
			b.logger.Warn("half-open trial failed, breaker reopened",
				slog.String("error", err.Error()),
			)
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.logger.Info("breaker closed")
		}
		return
	}

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Error("breaker opened",
				slog.Int("consecutive_failures", b.failures),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	b.failures = 0
}

// Snapshot returns the breaker's current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}
