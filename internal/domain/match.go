package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MatchType determines how a taker/maker pair executes.
type MatchType uint8

const (
	// MatchNone means the pair cannot trade against each other.
	MatchNone MatchType = iota
	// MatchComplementary swaps assets between a buy and a sell directly.
	MatchComplementary
	// MatchMint pairs two buys on distinct outcome tokens, synthesizing both
	// tokens from collateral.
	MatchMint
	// MatchMerge pairs two sells on distinct outcome tokens, redeeming both
	// back to collateral.
	MatchMerge
)

func (m MatchType) String() string {
	switch m {
	case MatchComplementary:
		return "complementary"
	case MatchMint:
		return "mint"
	case MatchMerge:
		return "merge"
	default:
		return "none"
	}
}

// Fill is one taker/maker execution produced by the matching core.
type Fill struct {
	TakerHash common.Hash
	MakerHash common.Hash
	Taker     string
	Maker     string
	Market    string
	TokenID   TokenID
	TakerSide Side
	Type      MatchType
	Price     int64    // execution price, 1e6-scaled
	Size      *big.Int // outcome-token units
	Cost      *big.Int // collateral units moved
	Fees      FeeBreakdown
}

// MatchDescriptor is the unit handed to the settlement worker: one taker
// matched against up to MaxMakersPerMatch makers.
type MatchDescriptor struct {
	ID          string        `json:"id"`
	TakerHash   common.Hash   `json:"takerHash"`
	MakerHashes []common.Hash `json:"makerHashes"`
	FillAmounts []*big.Int    `json:"fillAmounts"`
	TakerFill   *big.Int      `json:"takerFill"`
	Market      string        `json:"market"`
	TokenID     TokenID       `json:"tokenId"`
	EnqueuedAt  time.Time     `json:"enqueuedAt"`
}

// SettlementOutcome is the worker-reported result for a descriptor.
type SettlementOutcome string

const (
	SettlementSettled SettlementOutcome = "settled"
	SettlementFailed  SettlementOutcome = "failed"
)

// CancelRequest asks for atomic cancellation of a resting order.
type CancelRequest struct {
	OrderHash common.Hash
	UserID    string
	Timestamp time.Time
}

// CancelResult reports the funds moved back from locked to available.
type CancelResult struct {
	OrderHash      common.Hash
	UnlockedAmount *big.Int
	UnlockedToken  TokenID
}
