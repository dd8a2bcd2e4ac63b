package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

const intakeKey = "queue:intake"

// IntakeEnvelope is one submitted signed order awaiting matching.
type IntakeEnvelope struct {
	Order     json.RawMessage `json:"order"`
	Signature string          `json:"signature"`
	Kind      string          `json:"kind"` // "limit" or "market"
}

// OrderIntake is the FIFO handoff between order submission and the
// matching loop.
type OrderIntake struct {
	rdb *redis.Client
}

func NewOrderIntake(c *Client) *OrderIntake {
	return &OrderIntake{rdb: c.Underlying()}
}

// Submit enqueues an encoded order with its signature.
func (oi *OrderIntake) Submit(ctx context.Context, order domain.Order, signature string, kind domain.OrderKind) error {
	payload, err := domain.EncodeOrder(order)
	if err != nil {
		return fmt.Errorf("redis: submit order: %w", err)
	}

	kindStr := "limit"
	if kind == domain.KindMarket {
		kindStr = "market"
	}
	env, err := json.Marshal(IntakeEnvelope{
		Order:     payload,
		Signature: signature,
		Kind:      kindStr,
	})
	if err != nil {
		return fmt.Errorf("redis: submit order: %w", err)
	}

	if err := oi.rdb.LPush(ctx, intakeKey, env).Err(); err != nil {
		return fmt.Errorf("redis: submit order: %w", err)
	}
	return nil
}

// Next blocks up to timeout for the next submitted order, returning
// ErrQueueEmpty when none arrives. The order payload is strictly decoded;
// a malformed envelope is an error, never a zero order.
func (oi *OrderIntake) Next(ctx context.Context, timeout time.Duration) (domain.Order, string, domain.OrderKind, error) {
	res, err := oi.rdb.BRPop(ctx, timeout, intakeKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, "", domain.KindLimit, domain.ErrQueueEmpty
	}
	if err != nil {
		return domain.Order{}, "", domain.KindLimit, fmt.Errorf("redis: intake pop: %w", err)
	}

	// BRPop returns [key, value].
	var env IntakeEnvelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return domain.Order{}, "", domain.KindLimit, fmt.Errorf("redis: intake envelope: %w: %v", domain.ErrDecode, err)
	}

	order, err := domain.DecodeOrder(env.Order)
	if err != nil {
		return domain.Order{}, "", domain.KindLimit, fmt.Errorf("redis: intake order: %w", err)
	}

	kind := domain.KindLimit
	if env.Kind == "market" {
		kind = domain.KindMarket
	}
	return order, env.Signature, kind, nil
}
