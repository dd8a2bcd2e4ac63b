package redis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/catallaxyz/matchd/internal/domain"
)

// Key schema:
//
//	ord:{hash}                      - hash holding one order record
//	book:{market}:{token}:asks      - sorted set, score = price
//	book:{market}:{token}:bids      - sorted set, score = -price
//	matching                        - sorted set of in-flight hashes, score = claim time
//	queue:intake                    - submitted orders awaiting matching
//	queue:settle                    - pending settlement list
//	queue:settle:processing         - descriptors claimed by a worker
//	queue:settle:failed             - failed settlement list
//	bal:{user}:{token}:available    - integer balance, fits in int64
//	bal:{user}:{token}:locked       - integer balance, fits in int64
//	audit                           - append-only audit stream
//	lock:{key}                      - expiring match locks

const (
	matchingKey    = "matching"
	pendingKey     = "queue:settle"
	processingKey  = "queue:settle:processing"
	failedKey      = "queue:settle:failed"
	auditStreamKey = "audit"
)

func orderKey(hash common.Hash) string {
	return "ord:" + hash.Hex()
}

func bookKey(q domain.BookQuery) string {
	side := "bids"
	if q.Side == domain.SideSell {
		side = "asks"
	}
	return fmt.Sprintf("book:%s:%d:%s", q.Market, q.TokenID, side)
}

// bookScore maps a price onto the book's sorted-set score. Bid scores are
// sign-inverted so one ascending range query walks both sides best-first.
func bookScore(side domain.Side, price int64) float64 {
	if side == domain.SideBuy {
		return -float64(price)
	}
	return float64(price)
}

func balanceKey(user string, token domain.TokenID, sub string) string {
	return fmt.Sprintf("bal:%s:%d:%s", user, token, sub)
}
