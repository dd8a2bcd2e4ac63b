package redis

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

//go:embed scripts/cancel.lua
var cancelLua string

// CancelStore executes atomic cancellations. The unlock amount is computed
// here in big.Int from the record's remaining size, then the script
// re-validates ownership and remaining before moving a single unit of
// balance, so the read-compute-write window cannot unlock stale funds.
// Balance counters live in Redis as plain integers moved with
// INCRBY/DECRBY, which bounds any single user balance to int64. Collateral
// uses 6 decimals, so the bound sits above 9.2 trillion whole units per
// user and token.
type CancelStore struct {
	orders *OrderCache
	rdb    *redis.Client
	cancel *redis.Script
}

func NewCancelStore(c *Client, orders *OrderCache) *CancelStore {
	return &CancelStore{
		orders: orders,
		rdb:    c.Underlying(),
		cancel: redis.NewScript(cancelLua),
	}
}

func (cs *CancelStore) Cancel(ctx context.Context, req domain.CancelRequest) (domain.CancelResult, error) {
	rec, err := cs.orders.Get(ctx, req.OrderHash)
	if err != nil {
		return domain.CancelResult{}, err
	}

	unlock, token := unlockFor(rec)

	q := domain.BookQuery{Market: rec.Order.Market, TokenID: rec.Order.TokenID, Side: rec.Order.Side}
	keys := []string{
		orderKey(req.OrderHash),
		bookKey(q),
		balanceKey(req.UserID, token, "locked"),
		balanceKey(req.UserID, token, "available"),
		auditStreamKey,
	}
	args := []interface{}{
		req.UserID,
		rec.Remaining.String(),
		unlock.String(),
		strconv.FormatInt(req.Timestamp.Unix(), 10),
		req.OrderHash.Hex(),
		rec.Order.Market,
	}

	if err := cs.cancel.Run(ctx, cs.rdb, keys, args...).Err(); err != nil {
		return domain.CancelResult{}, cancelError(req, err)
	}

	return domain.CancelResult{
		OrderHash:      req.OrderHash,
		UnlockedAmount: unlock,
		UnlockedToken:  token,
	}, nil
}

// unlockFor returns the balance a cancellation releases: a buy holds
// collateral proportional to the unfilled size at the limit price, a sell
// holds the unfilled outcome tokens themselves.
func unlockFor(rec domain.OrderRecord) (*big.Int, domain.TokenID) {
	if rec.Order.IsBuy() {
		unlock := new(big.Int).Mul(rec.Remaining, big.NewInt(rec.Price))
		unlock.Quo(unlock, big.NewInt(domain.PriceScale))
		return unlock, domain.TokenCollateral
	}
	return new(big.Int).Set(rec.Remaining), rec.Order.TokenID
}

func cancelError(req domain.CancelRequest, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not_found"):
		return fmt.Errorf("redis: cancel %s: %w", req.OrderHash.Hex(), domain.ErrNotFound)
	case strings.Contains(msg, "not_owner"):
		return fmt.Errorf("redis: cancel %s: %w", req.OrderHash.Hex(), domain.ErrNotOrderOwner)
	case strings.Contains(msg, "terminal"):
		return fmt.Errorf("redis: cancel %s: %w", req.OrderHash.Hex(), domain.ErrOrderTerminal)
	case strings.Contains(msg, "conflict"):
		return fmt.Errorf("redis: cancel %s: %w", req.OrderHash.Hex(), domain.ErrVersionConflict)
	default:
		return fmt.Errorf("redis: cancel %s: %w", req.OrderHash.Hex(), err)
	}
}

var _ domain.CancelStore = (*CancelStore)(nil)
