package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/domain"
)

// memStore is an in-memory domain.OrderStore with the same versioning
// semantics as the relational implementation.
type memStore struct {
	mu         sync.Mutex
	rows       map[common.Hash]*domain.OrderRow
	fills      []domain.FillApplication
	conflictOn map[common.Hash]bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:       make(map[common.Hash]*domain.OrderRow),
		conflictOn: make(map[common.Hash]bool),
	}
}

func (s *memStore) Insert(_ context.Context, row domain.OrderRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.Hash]; ok {
		return domain.ErrAlreadyExists
	}
	cp := row
	cp.Remaining = new(big.Int).Set(row.Remaining)
	s.rows[row.Hash] = &cp
	return nil
}

func (s *memStore) GetByHash(_ context.Context, hash common.Hash) (domain.OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[hash]
	if !ok {
		return domain.OrderRow{}, domain.ErrNotFound
	}
	return *row, nil
}

func (s *memStore) ListOpenBook(_ context.Context, q domain.BookQuery, exclude common.Hash) ([]domain.OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.OrderRow
	for _, row := range s.rows {
		if row.Hash == exclude || !row.Fillable() {
			continue
		}
		o := row.Order
		if o.Market != q.Market || o.TokenID != q.TokenID || o.Side != q.Side {
			continue
		}
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		pi, pj := Price(rows[i].Order), Price(rows[j].Order)
		if pi != pj {
			if q.Side == domain.SideBuy {
				return pi > pj
			}
			return pi < pj
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

func (s *memStore) ApplyFill(_ context.Context, f domain.FillApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictOn[f.MakerHash] {
		delete(s.conflictOn, f.MakerHash)
		return domain.ErrVersionConflict
	}

	taker, ok := s.rows[f.TakerHash]
	if !ok || taker.Version != f.TakerVersion {
		return domain.ErrVersionConflict
	}
	maker, ok := s.rows[f.MakerHash]
	if !ok || maker.Version != f.MakerVersion {
		return domain.ErrVersionConflict
	}

	for _, row := range []*domain.OrderRow{taker, maker} {
		row.Remaining = new(big.Int).Sub(row.Remaining, f.Size)
		row.Version++
		if row.Remaining.Sign() <= 0 {
			row.State = domain.StateFilled
		} else {
			row.State = domain.StatePartial
		}
	}
	s.fills = append(s.fills, f)
	return nil
}

// failingNotifier always errors.
type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, string, string, string) error {
	return errors.New("webhook unreachable")
}

func newDurableFixture(opts Options) (*DurableMatcher, *memStore) {
	logger := discardLogger()
	store := newMemStore()
	brk := breaker.New("relational_store", breaker.RelationalStoreConfig(), logger)
	book := NewDurableOrderBook(store, brk)
	return NewDurableMatcher(book, store, NewFeeEngine(nil, logger), brk, logger, opts), store
}

// seedAsk inserts an open resting sell at the given price for size units.
func seedAsk(t *testing.T, store *memStore, id int, price, size int64, createdAt time.Time) common.Hash {
	t.Helper()
	order := sellOrder(domain.TokenOutcomeA, size, size*price/domain.PriceScale)
	hash := common.HexToHash(fmt.Sprintf("0x%02x", id))
	require.NoError(t, store.Insert(context.Background(), domain.OrderRow{
		Hash:      hash,
		Order:     order,
		State:     domain.StateOpen,
		Remaining: big.NewInt(size),
		Version:   1,
		CreatedAt: createdAt,
	}))
	return hash
}

func TestDurableMatchOrderAppliesFills(t *testing.T) {
	matcher, store := newDurableFixture(Options{})
	now := time.Now()

	ask55 := seedAsk(t, store, 1, 550_000, 60, now)
	ask58 := seedAsk(t, store, 2, 580_000, 50, now.Add(time.Second))
	seedAsk(t, store, 3, 650_000, 30, now) // above the limit

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	takerHash := common.HexToHash("0xff")

	fills, err := matcher.MatchOrder(context.Background(), taker, takerHash, domain.KindLimit)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, ask55, fills[0].MakerHash)
	assert.Equal(t, int64(60), fills[0].Size.Int64())
	assert.Equal(t, ask58, fills[1].MakerHash)
	assert.Equal(t, int64(40), fills[1].Size.Int64())

	// The taker row was inserted on first sight and is now fully consumed.
	row, err := store.GetByHash(context.Background(), takerHash)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, row.State)
	assert.Zero(t, row.Remaining.Sign())

	// Each applied fill advanced the taker's version.
	require.Len(t, store.fills, 2)
	assert.Equal(t, int64(1), store.fills[0].TakerVersion)
	assert.Equal(t, int64(2), store.fills[1].TakerVersion)
	assert.Equal(t, int64(1), store.fills[0].MakerVersion)
}

func TestDurableMatchOrderVersionConflictSkipsMaker(t *testing.T) {
	matcher, store := newDurableFixture(Options{})
	now := time.Now()

	ask55 := seedAsk(t, store, 1, 550_000, 60, now)
	ask58 := seedAsk(t, store, 2, 580_000, 50, now.Add(time.Second))
	store.conflictOn[ask55] = true

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	fills, err := matcher.MatchOrder(context.Background(), taker, common.HexToHash("0xff"), domain.KindLimit)
	require.NoError(t, err)

	// The raced maker is skipped, not retried; the taker keeps the rest.
	require.Len(t, fills, 1)
	assert.Equal(t, ask58, fills[0].MakerHash)
	assert.Equal(t, int64(40), fills[0].Size.Int64())

	row, err := store.GetByHash(context.Background(), ask55)
	require.NoError(t, err)
	assert.Equal(t, int64(60), row.Remaining.Int64())
}

func TestDurableMatchOrderPartialTakerFillsOnlyRemaining(t *testing.T) {
	matcher, store := newDurableFixture(Options{})
	now := time.Now()

	seedAsk(t, store, 1, 550_000, 60, now)
	seedAsk(t, store, 2, 580_000, 50, now.Add(time.Second))

	// The taker already traded 60 of its 100 units on a previous pass.
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	takerHash := common.HexToHash("0xff")
	require.NoError(t, store.Insert(context.Background(), domain.OrderRow{
		Hash:      takerHash,
		Order:     taker,
		State:     domain.StatePartial,
		Remaining: big.NewInt(40),
		Version:   2,
		CreatedAt: now,
	}))

	fills, err := matcher.MatchOrder(context.Background(), taker, takerHash, domain.KindLimit)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(40), fills[0].Size.Int64())
	assert.Equal(t, int64(2), store.fills[0].TakerVersion)

	row, err := store.GetByHash(context.Background(), takerHash)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, row.State)
	assert.Zero(t, row.Remaining.Sign())
}

func TestDurableMatchOrderTakerNotFillable(t *testing.T) {
	matcher, store := newDurableFixture(Options{})
	seedAsk(t, store, 1, 550_000, 60, time.Now())

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	takerHash := common.HexToHash("0xff")
	require.NoError(t, store.Insert(context.Background(), domain.OrderRow{
		Hash:      takerHash,
		Order:     taker,
		State:     domain.StateFilled,
		Remaining: big.NewInt(0),
		Version:   3,
		CreatedAt: time.Now(),
	}))

	fills, err := matcher.MatchOrder(context.Background(), taker, takerHash, domain.KindLimit)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Empty(t, store.fills)
}

func TestDurableMatchOrderInvalidOrder(t *testing.T) {
	matcher, store := newDurableFixture(Options{})

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	taker.TakerAmount = big.NewInt(0)

	fills, err := matcher.MatchOrder(context.Background(), taker, common.HexToHash("0xff"), domain.KindLimit)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Empty(t, store.rows)
}

func TestDurableMatchOrderNotifierFailureDoesNotBlockFills(t *testing.T) {
	matcher, store := newDurableFixture(Options{Notifier: failingNotifier{}})
	seedAsk(t, store, 1, 550_000, 60, time.Now())

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	fills, err := matcher.MatchOrder(context.Background(), taker, common.HexToHash("0xff"), domain.KindLimit)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestDurableBookFiltersCandidates(t *testing.T) {
	logger := discardLogger()
	store := newMemStore()
	brk := breaker.New("relational_store", breaker.RelationalStoreConfig(), logger)
	book := NewDurableOrderBook(store, brk)
	now := time.Now()

	open := seedAsk(t, store, 1, 550_000, 60, now)

	expired := sellOrder(domain.TokenOutcomeA, 50, 27)
	expired.Expiration = now.Add(-time.Minute).Unix()
	require.NoError(t, store.Insert(context.Background(), domain.OrderRow{
		Hash: common.HexToHash("0x10"), Order: expired, State: domain.StateOpen,
		Remaining: big.NewInt(50), Version: 1, CreatedAt: now,
	}))

	restricted := sellOrder(domain.TokenOutcomeA, 50, 27)
	restricted.Taker = "someone-else"
	require.NoError(t, store.Insert(context.Background(), domain.OrderRow{
		Hash: common.HexToHash("0x11"), Order: restricted, State: domain.StateOpen,
		Remaining: big.NewInt(50), Version: 1, CreatedAt: now,
	}))

	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	cands, err := book.Candidates(context.Background(), taker, common.HexToHash("0xff"), Price(taker))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, open, cands[0].Hash)
	assert.Equal(t, int64(550_000), cands[0].Price)
	assert.Equal(t, int64(1), cands[0].Version)
}
