package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/config"
	"github.com/catallaxyz/matchd/internal/domain"
	"github.com/catallaxyz/matchd/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// regCache is an in-memory domain.OrderCache with register-once Put
// semantics matching the Redis implementation.
type regCache struct {
	mu   sync.Mutex
	recs map[common.Hash]*domain.OrderRecord
}

func newRegCache() *regCache {
	return &regCache{recs: make(map[common.Hash]*domain.OrderRecord)}
}

func (c *regCache) Put(_ context.Context, rec domain.OrderRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.recs[rec.Hash]; ok {
		return domain.ErrAlreadyExists
	}
	cp := rec
	c.recs[rec.Hash] = &cp
	return nil
}

func (c *regCache) Get(_ context.Context, hash common.Hash) (domain.OrderRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[hash]
	if !ok {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	return *rec, nil
}

func (c *regCache) TransitionMatching(_ context.Context, taker common.Hash, makers []common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := append([]common.Hash{taker}, makers...)
	for _, h := range all {
		rec, ok := c.recs[h]
		if !ok || !rec.Fillable() {
			return domain.ErrOrderNotFillable
		}
	}
	for _, h := range all {
		c.recs[h].State = domain.StateMatching
	}
	return nil
}

func (c *regCache) ApplyOutcome(context.Context, domain.MatchDescriptor, domain.SettlementOutcome, string) error {
	return nil
}

func (c *regCache) ListStuckMatching(context.Context, time.Time) ([]common.Hash, error) {
	return nil, nil
}

func (c *regCache) Revert(_ context.Context, hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.recs[hash]; ok {
		rec.State = domain.StateOpen
	}
	return nil
}

// fixedBook serves a fixed candidate slice.
type fixedBook struct {
	cands []engine.Candidate
}

func (b *fixedBook) Candidates(context.Context, domain.Order, common.Hash, int64) ([]engine.Candidate, error) {
	return b.cands, nil
}

// grantLocks always grants.
type grantLocks struct{}

func (grantLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// capQueue records enqueued descriptors.
type capQueue struct {
	mu      sync.Mutex
	pending []domain.MatchDescriptor
}

func (q *capQueue) Enqueue(_ context.Context, desc domain.MatchDescriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, desc)
	return nil
}

func (q *capQueue) Dequeue(context.Context) (domain.MatchDescriptor, error) {
	return domain.MatchDescriptor{}, domain.ErrQueueEmpty
}

func (q *capQueue) Ack(context.Context, domain.MatchDescriptor) error  { return nil }
func (q *capQueue) Fail(context.Context, domain.MatchDescriptor) error { return nil }
func (q *capQueue) Requeue(context.Context, domain.MatchDescriptor) error {
	return nil
}
func (q *capQueue) Recover(context.Context) (int, error) { return 0, nil }

// nopCancels never cancels anything.
type nopCancels struct{}

func (nopCancels) Cancel(context.Context, domain.CancelRequest) (domain.CancelResult, error) {
	return domain.CancelResult{}, domain.ErrNotFound
}

type coordFixture struct {
	app   *App
	deps  *Dependencies
	cache *regCache
	queue *capQueue
}

func newCoordFixture(cands []engine.Candidate) *coordFixture {
	logger := testLogger()
	cfg := config.Defaults()

	f := &coordFixture{
		app:   New(&cfg, logger),
		cache: newRegCache(),
		queue: &capQueue{},
	}
	brk := breaker.New("coordination_store", breaker.CoordinationStoreConfig(), logger)
	eng := engine.New(&fixedBook{cands: cands}, f.cache, nopCancels{}, grantLocks{}, f.queue,
		engine.NewFeeEngine(nil, logger), brk, logger, engine.Options{})
	f.deps = &Dependencies{
		OrderCache:   f.cache,
		Queue:        f.queue,
		CoordBreaker: brk,
		Engine:       eng,
	}
	return f
}

func coordBuyOrder(tokens, collateral int64) domain.Order {
	return domain.Order{
		Maker:       "alice",
		Market:      "mkt-1",
		TokenID:     domain.TokenOutcomeA,
		Side:        domain.SideBuy,
		MakerAmount: big.NewInt(collateral),
		TakerAmount: big.NewInt(tokens),
	}
}

func coordAsk(id int, price, remaining int64) engine.Candidate {
	return engine.Candidate{
		Hash: common.HexToHash(fmt.Sprintf("0x%02x", id)),
		Order: domain.Order{
			Maker:       "bob",
			Market:      "mkt-1",
			TokenID:     domain.TokenOutcomeA,
			Side:        domain.SideSell,
			MakerAmount: big.NewInt(remaining),
			TakerAmount: big.NewInt(remaining * price / domain.PriceScale),
		},
		Remaining: big.NewInt(remaining),
		Price:     price,
		CreatedAt: time.Unix(int64(id), 0),
	}
}

func TestMatchCoordinationRegistersAndEnqueues(t *testing.T) {
	maker := coordAsk(2, 550_000, 100)
	f := newCoordFixture([]engine.Candidate{maker})
	require.NoError(t, f.cache.Put(context.Background(), domain.OrderRecord{
		Hash:      maker.Hash,
		Order:     maker.Order,
		State:     domain.StateOpen,
		Filled:    big.NewInt(0),
		Remaining: big.NewInt(100),
	}))

	order := coordBuyOrder(100, 60)
	hash := common.HexToHash("0xff")

	f.app.matchCoordination(context.Background(), f.deps, order, hash, "sig", domain.KindLimit, testLogger())

	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, hash, f.queue.pending[0].TakerHash)

	rec, err := f.cache.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.StateMatching, rec.State)
}

func TestMatchCoordinationRedeliveryKeepsFilledOrder(t *testing.T) {
	maker := coordAsk(2, 550_000, 100)
	f := newCoordFixture([]engine.Candidate{maker})
	require.NoError(t, f.cache.Put(context.Background(), domain.OrderRecord{
		Hash:      maker.Hash,
		Order:     maker.Order,
		State:     domain.StateOpen,
		Filled:    big.NewInt(0),
		Remaining: big.NewInt(100),
	}))

	order := coordBuyOrder(100, 60)
	hash := common.HexToHash("0xff")

	// The order already went through its whole lifecycle.
	require.NoError(t, f.cache.Put(context.Background(), domain.OrderRecord{
		Hash:      hash,
		Order:     order,
		State:     domain.StateFilled,
		Filled:    big.NewInt(100),
		Remaining: big.NewInt(0),
	}))

	// The same order delivered again must not reset state or match.
	f.app.matchCoordination(context.Background(), f.deps, order, hash, "sig", domain.KindLimit, testLogger())

	assert.Empty(t, f.queue.pending)
	rec, err := f.cache.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, rec.State)
	assert.Equal(t, int64(100), rec.Filled.Int64())
	assert.Zero(t, rec.Remaining.Sign())
}

func TestMatchCoordinationRedeliveredPartialStillMatches(t *testing.T) {
	maker := coordAsk(2, 550_000, 100)
	f := newCoordFixture([]engine.Candidate{maker})
	require.NoError(t, f.cache.Put(context.Background(), domain.OrderRecord{
		Hash:      maker.Hash,
		Order:     maker.Order,
		State:     domain.StateOpen,
		Filled:    big.NewInt(0),
		Remaining: big.NewInt(100),
	}))

	order := coordBuyOrder(100, 60)
	hash := common.HexToHash("0xff")
	require.NoError(t, f.cache.Put(context.Background(), domain.OrderRecord{
		Hash:      hash,
		Order:     order,
		State:     domain.StatePartial,
		Filled:    big.NewInt(60),
		Remaining: big.NewInt(40),
	}))

	f.app.matchCoordination(context.Background(), f.deps, order, hash, "sig", domain.KindLimit, testLogger())

	// A live redelivered order matches against its stored remaining size.
	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, int64(40), f.queue.pending[0].TakerFill.Int64())
}
