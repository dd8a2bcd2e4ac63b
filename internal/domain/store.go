package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxMakersPerMatch caps how many makers one match descriptor may carry.
const MaxMakersPerMatch = 5

// BookQuery identifies one side of one outcome's order book.
type BookQuery struct {
	Market  string
	TokenID TokenID
	Side    Side
}

// FillApplication is the input to the durable store's atomic fill procedure:
// one taker/maker pair, the fill size and price, and the exact fee split.
// The version fields carry the optimistic-concurrency check.
type FillApplication struct {
	TakerHash    common.Hash
	MakerHash    common.Hash
	Size         *big.Int
	Price        int64
	Fees         FeeBreakdown
	TakerVersion int64
	MakerVersion int64
}

// OrderStore is the durable (relational) order store.
type OrderStore interface {
	Insert(ctx context.Context, row OrderRow) error
	GetByHash(ctx context.Context, hash common.Hash) (OrderRow, error)

	// ListOpenBook returns every open order on one side of a book excluding
	// the given hash, best price first (ascending for sells, descending for
	// buys), ties broken by ascending creation time.
	ListOpenBook(ctx context.Context, q BookQuery, exclude common.Hash) ([]OrderRow, error)

	// ApplyFill applies one fill to both orders. The primary path is an
	// atomic stored procedure holding row locks with a version check; the
	// implementation may fall back to sequential versioned updates, a
	// degraded mode that can lose a concurrent update under contention.
	// Returns ErrVersionConflict when the optimistic check fails.
	ApplyFill(ctx context.Context, f FillApplication) error
}

// OrderCache is the coordination store's per-order record keeper.
type OrderCache interface {
	// Put registers a record exactly once. Re-registering an existing hash
	// returns ErrAlreadyExists and leaves the stored record untouched.
	Put(ctx context.Context, rec OrderRecord) error
	Get(ctx context.Context, hash common.Hash) (OrderRecord, error)

	// TransitionMatching atomically moves the taker and all makers from open
	// to matching and removes their book entries in one multi-key batch.
	// It fails with ErrOrderNotFillable if any of them is no longer open,
	// leaving every order untouched.
	TransitionMatching(ctx context.Context, taker common.Hash, makers []common.Hash) error

	// ApplyOutcome finalizes a settled match (decrement remaining, mark
	// filled or partial, reinsert partially filled orders into their books)
	// or reverts every order in a failed match back to open.
	ApplyOutcome(ctx context.Context, desc MatchDescriptor, outcome SettlementOutcome, txRef string) error

	// ListStuckMatching returns orders that entered the matching state
	// before the cutoff and were never finalized or reverted.
	ListStuckMatching(ctx context.Context, cutoff time.Time) ([]common.Hash, error)

	// Revert returns a single matching order to open, restoring its book
	// entry. Used by the reaper when a settlement worker dies mid-flight.
	Revert(ctx context.Context, hash common.Hash) error
}

// BookCache is the coordination store's price-ordered book index.
// Sell books order ascending by price, buy books descending, so the first
// returned candidate is always the best price for the opposing taker.
type BookCache interface {
	Insert(ctx context.Context, q BookQuery, hash common.Hash, price int64) error

	// Crossing returns up to max order hashes priced within [minPrice,
	// maxPrice], best price first, excluding the given hash.
	Crossing(ctx context.Context, q BookQuery, minPrice, maxPrice int64, max int, exclude common.Hash) ([]common.Hash, error)

	Remove(ctx context.Context, q BookQuery, hash common.Hash) error
}

// LockManager hands out exclusive, time-boxed locks.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL, returning an
	// unlock function. Returns ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SettlementQueue is the durable FIFO handoff to the settlement worker.
type SettlementQueue interface {
	Enqueue(ctx context.Context, desc MatchDescriptor) error

	// Dequeue claims the next pending descriptor, holding it on a
	// processing list until Ack or Fail. Returns ErrQueueEmpty when
	// nothing is waiting.
	Dequeue(ctx context.Context) (MatchDescriptor, error)

	// Ack drops a finalized descriptor from the processing list.
	Ack(ctx context.Context, desc MatchDescriptor) error

	// Fail moves a descriptor from the processing list to the failed
	// queue for later re-drive.
	Fail(ctx context.Context, desc MatchDescriptor) error

	// Requeue moves a failed descriptor back onto the pending queue.
	Requeue(ctx context.Context, desc MatchDescriptor) error

	// Recover returns every descriptor stranded on the processing list
	// to the pending queue, reporting how many were moved.
	Recover(ctx context.Context) (int, error)
}

// CancelStore executes the atomic cancellation transaction.
type CancelStore interface {
	Cancel(ctx context.Context, req CancelRequest) (CancelResult, error)
}

// FeeConfigSource looks up the live fee configuration. Implementations
// return ErrNotFound when no row exists; callers fall back to
// DefaultFeeConfig and must never let a lookup failure block matching.
type FeeConfigSource interface {
	Fetch(ctx context.Context) (FeeConfig, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Notifier is a best-effort side effect: implementations must never block
// or fail the primary transaction.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MatchArchiver archives settled descriptors for offline reconciliation.
type MatchArchiver interface {
	ArchiveSettled(ctx context.Context, desc MatchDescriptor, txRef string) error
}
