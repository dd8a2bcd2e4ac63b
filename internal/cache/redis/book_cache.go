package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

// BookCache keeps one sorted set per book side. Ask scores equal the price
// and bid scores its negation, so an ascending range walk always yields the
// best price first on either side.
type BookCache struct {
	rdb *redis.Client
}

func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func (bc *BookCache) Insert(ctx context.Context, q domain.BookQuery, hash common.Hash, price int64) error {
	err := bc.rdb.ZAdd(ctx, bookKey(q), redis.Z{
		Score:  bookScore(q.Side, price),
		Member: hash.Hex(),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: book insert %s: %w", hash.Hex(), err)
	}
	return nil
}

// Crossing returns up to max candidate hashes priced within [minPrice,
// maxPrice], best price first, excluding the given hash. One extra member
// is fetched to absorb the exclusion without shorting the result.
func (bc *BookCache) Crossing(ctx context.Context, q domain.BookQuery, minPrice, maxPrice int64, max int, exclude common.Hash) ([]common.Hash, error) {
	lo, hi := minPrice, maxPrice
	if q.Side == domain.SideBuy {
		lo, hi = -maxPrice, -minPrice
	}

	limit := int64(max)
	if limit > 0 {
		limit++
	}
	members, err := bc.rdb.ZRangeByScore(ctx, bookKey(q), &redis.ZRangeBy{
		Min:   strconv.FormatInt(lo, 10),
		Max:   strconv.FormatInt(hi, 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: book crossing %s: %w", bookKey(q), err)
	}

	excludeHex := exclude.Hex()
	hashes := make([]common.Hash, 0, len(members))
	for _, m := range members {
		if m == excludeHex {
			continue
		}
		hashes = append(hashes, common.HexToHash(m))
		if max > 0 && len(hashes) == max {
			break
		}
	}
	return hashes, nil
}

func (bc *BookCache) Remove(ctx context.Context, q domain.BookQuery, hash common.Hash) error {
	err := bc.rdb.ZRem(ctx, bookKey(q), hash.Hex()).Err()
	if err != nil {
		return fmt.Errorf("redis: book remove %s: %w", hash.Hex(), err)
	}
	return nil
}

var _ domain.BookCache = (*BookCache)(nil)
