package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

// SettlementQueue is a durable FIFO of match descriptors. Enqueue LPUSHes
// onto the pending list; Dequeue moves the oldest entry onto a processing
// list in the same server-side operation, so a worker crash leaves the
// descriptor recoverable instead of lost. Ack removes it once settlement
// is finalized, Fail parks it on the failed list, and Recover re-drives
// anything a dead worker left behind.
type SettlementQueue struct {
	rdb *redis.Client
}

func NewSettlementQueue(c *Client) *SettlementQueue {
	return &SettlementQueue{rdb: c.Underlying()}
}

func (q *SettlementQueue) Enqueue(ctx context.Context, desc domain.MatchDescriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("redis: enqueue match %s: %w", desc.ID, err)
	}
	if err := q.rdb.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("redis: enqueue match %s: %w", desc.ID, err)
	}
	return nil
}

// Dequeue atomically moves the oldest pending descriptor onto the
// processing list and returns it.
func (q *SettlementQueue) Dequeue(ctx context.Context) (domain.MatchDescriptor, error) {
	payload, err := q.rdb.LMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return domain.MatchDescriptor{}, domain.ErrQueueEmpty
	}
	if err != nil {
		return domain.MatchDescriptor{}, fmt.Errorf("redis: dequeue match: %w", err)
	}

	var desc domain.MatchDescriptor
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return domain.MatchDescriptor{}, fmt.Errorf("redis: dequeue match: %w: %v", domain.ErrDecode, err)
	}
	return desc, nil
}

// Ack drops a finalized descriptor from the processing list.
func (q *SettlementQueue) Ack(ctx context.Context, desc domain.MatchDescriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("redis: ack match %s: %w", desc.ID, err)
	}
	if err := q.rdb.LRem(ctx, processingKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("redis: ack match %s: %w", desc.ID, err)
	}
	return nil
}

// Fail moves a descriptor from the processing list to the failed list.
func (q *SettlementQueue) Fail(ctx context.Context, desc domain.MatchDescriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("redis: fail match %s: %w", desc.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, payload)
	pipe.LPush(ctx, failedKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: fail match %s: %w", desc.ID, err)
	}
	return nil
}

// Requeue moves a failed descriptor back onto the pending queue, placing
// it at the front so a re-driven match settles ahead of new arrivals.
func (q *SettlementQueue) Requeue(ctx context.Context, desc domain.MatchDescriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("redis: requeue match %s: %w", desc.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, failedKey, 1, payload)
	pipe.RPush(ctx, pendingKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: requeue match %s: %w", desc.ID, err)
	}
	return nil
}

// Recover drains the processing list back onto the pending queue. Called
// on worker startup so descriptors claimed by a crashed worker settle
// again instead of sitting in limbo. Returns the number recovered.
func (q *SettlementQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		_, err := q.rdb.LMove(ctx, processingKey, pendingKey, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("redis: recover in-flight matches: %w", err)
		}
		recovered++
	}
}

var _ domain.SettlementQueue = (*SettlementQueue)(nil)
