// Package domain defines the core exchange types plus the store, cache,
// queue, and lock interfaces consumed by the matching engine.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale for prices and 1e6-scaled rates.
const PriceScale = 1_000_000

// BpsDivisor converts basis points to a fraction (100% = 10000 bps).
const BpsDivisor = 10_000

// MaxFeeRateBps caps the per-order fee rate at 10%.
const MaxFeeRateBps = 1000

// Side indicates whether an order buys or sells the outcome token.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TokenID identifies the asset an order trades.
// 0 is the collateral asset, 1 and 2 the two complementary outcome tokens.
type TokenID uint8

const (
	TokenCollateral TokenID = 0
	TokenOutcomeA   TokenID = 1
	TokenOutcomeB   TokenID = 2
)

// OrderState tracks the order lifecycle. StateOpen and StatePartial are the
// live, book-resident states; orders leave the live book the moment they
// move to StateMatching and only return on revert or partial fill.
type OrderState string

const (
	StateOpen      OrderState = "open"
	StateMatching  OrderState = "matching"
	StateFilled    OrderState = "filled"
	StatePartial   OrderState = "partial"
	StateCancelled OrderState = "cancelled"
)

// Terminal reports whether no further fills or cancellations are possible.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCancelled
}

// Order is a signed order payload. MakerAmount is what the maker provides,
// TakerAmount what the maker expects to receive; both are integers in the
// smallest collateral unit and must stay in big.Int arithmetic end to end.
type Order struct {
	Salt        uint64   `json:"salt"`
	Maker       string   `json:"maker"`
	Signer      string   `json:"signer"`
	Taker       string   `json:"taker"` // empty = public order
	Market      string   `json:"market"`
	TokenID     TokenID  `json:"tokenId"`
	MakerAmount *big.Int `json:"makerAmount"`
	TakerAmount *big.Int `json:"takerAmount"`
	Expiration  int64    `json:"expiration"` // unix seconds, 0 = never expires
	Nonce       uint64   `json:"nonce"`
	FeeRateBps  uint16   `json:"feeRateBps"`
	Side        Side     `json:"side"`
}

// IsBuy reports whether this is a buy order.
func (o Order) IsBuy() bool { return o.Side == SideBuy }

// IsSell reports whether this is a sell order.
func (o Order) IsSell() bool { return o.Side == SideSell }

// IsCollateral reports whether the order trades the collateral asset itself.
func (o Order) IsCollateral() bool { return o.TokenID == TokenCollateral }

// IsExpired reports whether the order has expired at the given time.
// Expiration 0 means the order never expires.
func (o Order) IsExpired(now time.Time) bool {
	return o.Expiration > 0 && o.Expiration < now.Unix()
}

// IsPublic reports whether any counterparty may take the order.
func (o Order) IsPublic() bool { return o.Taker == "" }

// TokenUnits returns the order's size in outcome-token units: what a buy
// wants to receive and what a sell offers. Fill sizes and remaining amounts
// are tracked in these units on both sides of a match.
func (o Order) TokenUnits() *big.Int {
	if o.IsBuy() {
		return o.TakerAmount
	}
	return o.MakerAmount
}

// OrderKind separates resting-price orders from aggressing market orders.
// Limit orders are fee-exempt by policy; market orders pay the dynamic
// taker rate.
type OrderKind uint8

const (
	KindLimit  OrderKind = 0
	KindMarket OrderKind = 1
)

// OrderRow is a durable-store order: the signed payload plus fill
// book-keeping and an optimistic-concurrency version.
type OrderRow struct {
	Hash      common.Hash
	Order     Order
	State     OrderState
	Remaining *big.Int // outcome-token units still fillable
	Version   int64
	CreatedAt time.Time
}

// Fillable reports whether the row can still participate in a match.
// Partially filled orders remain live book residents.
func (r OrderRow) Fillable() bool {
	return (r.State == StateOpen || r.State == StatePartial) && r.Remaining != nil && r.Remaining.Sign() > 0
}

// OrderRecord is a coordination-store order entry: the decoded payload, its
// signature, lifecycle state, and fill accounting.
type OrderRecord struct {
	Hash      common.Hash
	Order     Order
	Signature string
	State     OrderState
	Price     int64 // derived at insert time, 1e6-scaled
	Filled    *big.Int
	Remaining *big.Int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fillable reports whether the record can still participate in a match.
func (r OrderRecord) Fillable() bool {
	return (r.State == StateOpen || r.State == StatePartial) && r.Remaining != nil && r.Remaining.Sign() > 0
}
