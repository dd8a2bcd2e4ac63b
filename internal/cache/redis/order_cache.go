package redis

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

//go:embed scripts/register.lua
var registerLua string

//go:embed scripts/transition.lua
var transitionLua string

//go:embed scripts/revert.lua
var revertLua string

//go:embed scripts/finalize.lua
var finalizeLua string

// OrderCache implements domain.OrderCache using one Redis hash per order
// plus Lua scripts for every multi-key state transition. All amounts are
// stored as decimal strings; arithmetic happens caller-side in big.Int.
type OrderCache struct {
	rdb        *redis.Client
	register   *redis.Script
	transition *redis.Script
	revert     *redis.Script
	finalize   *redis.Script
}

// NewOrderCache creates an OrderCache backed by the given Client.
func NewOrderCache(c *Client) *OrderCache {
	return &OrderCache{
		rdb:        c.Underlying(),
		register:   redis.NewScript(registerLua),
		transition: redis.NewScript(transitionLua),
		revert:     redis.NewScript(revertLua),
		finalize:   redis.NewScript(finalizeLua),
	}
}

// Put registers an order record and inserts its book entry in one scripted
// write. An already registered hash returns domain.ErrAlreadyExists and
// leaves the stored record untouched, so a redelivered order can never be
// reset mid-lifecycle.
func (oc *OrderCache) Put(ctx context.Context, rec domain.OrderRecord) error {
	payload, err := domain.EncodeOrder(rec.Order)
	if err != nil {
		return fmt.Errorf("redis: put order %s: %w", rec.Hash.Hex(), err)
	}

	q := domain.BookQuery{Market: rec.Order.Market, TokenID: rec.Order.TokenID, Side: rec.Order.Side}
	book := bookKey(q)
	score := bookScore(rec.Order.Side, rec.Price)

	filled := "0"
	if rec.Filled != nil {
		filled = rec.Filled.String()
	}
	remaining := rec.Order.TokenUnits().String()
	if rec.Remaining != nil {
		remaining = rec.Remaining.String()
	}

	insert := "0"
	if rec.State == domain.StateOpen || rec.State == domain.StatePartial {
		insert = "1"
	}

	args := []interface{}{
		insert,
		strconv.FormatFloat(score, 'f', -1, 64),
		rec.Hash.Hex(),
		"payload", string(payload),
		"signature", rec.Signature,
		"status", string(rec.State),
		"price", strconv.FormatInt(rec.Price, 10),
		"filled", filled,
		"remaining", remaining,
		"maker", rec.Order.Maker,
		"market", rec.Order.Market,
		"book_key", book,
		"book_score", strconv.FormatFloat(score, 'f', -1, 64),
		"created_at", strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		"updated_at", strconv.FormatInt(time.Now().UnixNano(), 10),
	}

	if err := oc.register.Run(ctx, oc.rdb, []string{orderKey(rec.Hash), book}, args...).Err(); err != nil {
		if strings.Contains(err.Error(), "exists") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("redis: put order %s: %w", rec.Hash.Hex(), err)
	}
	return nil
}

// Get loads and strictly decodes an order record. A record whose payload
// fails decoding is surfaced as an error, never as a partial record.
func (oc *OrderCache) Get(ctx context.Context, hash common.Hash) (domain.OrderRecord, error) {
	vals, err := oc.rdb.HGetAll(ctx, orderKey(hash)).Result()
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("redis: get order %s: %w", hash.Hex(), err)
	}
	if len(vals) == 0 {
		return domain.OrderRecord{}, domain.ErrNotFound
	}

	order, err := domain.DecodeOrder([]byte(vals["payload"]))
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("redis: order %s: %w", hash.Hex(), err)
	}

	rec := domain.OrderRecord{
		Hash:      hash,
		Order:     order,
		Signature: vals["signature"],
		State:     domain.OrderState(vals["status"]),
	}
	rec.Price, _ = strconv.ParseInt(vals["price"], 10, 64)

	rec.Filled = parseAmount(vals["filled"])
	rec.Remaining = parseAmount(vals["remaining"])

	if ns, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(0, ns)
	}
	if ns, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, ns)
	}
	return rec, nil
}

func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// TransitionMatching claims the taker and all makers in one scripted batch.
func (oc *OrderCache) TransitionMatching(ctx context.Context, taker common.Hash, makers []common.Hash) error {
	args := make([]interface{}, 0, len(makers)+2)
	args = append(args, strconv.FormatInt(time.Now().Unix(), 10), taker.Hex())
	for _, m := range makers {
		args = append(args, m.Hex())
	}

	err := oc.transition.Run(ctx, oc.rdb, []string{matchingKey}, args...).Err()
	if err != nil {
		if strings.Contains(err.Error(), "not_fillable") {
			return domain.ErrOrderNotFillable
		}
		return fmt.Errorf("redis: transition matching %s: %w", taker.Hex(), err)
	}
	return nil
}

// ApplyOutcome finalizes or reverts every order of a settled match. The new
// filled/remaining values are computed here in big.Int and written by the
// finalize script, which re-checks that each order is still in the
// matching state before touching anything.
func (oc *OrderCache) ApplyOutcome(ctx context.Context, desc domain.MatchDescriptor, outcome domain.SettlementOutcome, txRef string) error {
	type member struct {
		hash common.Hash
		fill *big.Int
	}
	members := make([]member, 0, len(desc.MakerHashes)+1)
	members = append(members, member{hash: desc.TakerHash, fill: desc.TakerFill})
	for i, h := range desc.MakerHashes {
		members = append(members, member{hash: h, fill: desc.FillAmounts[i]})
	}

	args := []interface{}{
		strconv.FormatInt(time.Now().Unix(), 10),
		txRef,
		strconv.Itoa(len(members)),
	}
	for _, m := range members {
		rec, err := oc.Get(ctx, m.hash)
		if err != nil {
			return fmt.Errorf("redis: apply outcome %s: %w", desc.ID, err)
		}

		filled := new(big.Int).Set(rec.Filled)
		remaining := new(big.Int).Set(rec.Remaining)
		if outcome == domain.SettlementSettled {
			filled.Add(filled, m.fill)
			remaining.Sub(remaining, m.fill)
			if remaining.Sign() < 0 {
				remaining.SetInt64(0)
			}
		}

		state := domain.StateOpen
		reinsert := "1"
		switch {
		case outcome == domain.SettlementSettled && remaining.Sign() == 0:
			state, reinsert = domain.StateFilled, "0"
		case filled.Sign() > 0:
			state = domain.StatePartial
		}

		args = append(args, m.hash.Hex(), string(state), filled.String(), remaining.String(), reinsert)
	}

	err := oc.finalize.Run(ctx, oc.rdb, []string{matchingKey}, args...).Err()
	if err != nil {
		if strings.Contains(err.Error(), "not_matching") {
			return domain.ErrOrderNotFillable
		}
		return fmt.Errorf("redis: apply outcome %s: %w", desc.ID, err)
	}
	return nil
}

// ListStuckMatching returns orders claimed before the cutoff and never
// finalized, oldest first.
func (oc *OrderCache) ListStuckMatching(ctx context.Context, cutoff time.Time) ([]common.Hash, error) {
	members, err := oc.rdb.ZRangeByScore(ctx, matchingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list stuck matching: %w", err)
	}

	hashes := make([]common.Hash, 0, len(members))
	for _, m := range members {
		hashes = append(hashes, common.HexToHash(m))
	}
	return hashes, nil
}

// Revert returns one claimed order to its live state and book position.
func (oc *OrderCache) Revert(ctx context.Context, hash common.Hash) error {
	err := oc.revert.Run(ctx, oc.rdb, []string{matchingKey},
		hash.Hex(), strconv.FormatInt(time.Now().Unix(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: revert order %s: %w", hash.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderCache = (*OrderCache)(nil)
