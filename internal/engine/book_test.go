package engine

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catallaxyz/matchd/internal/domain"
)

// askCandidate builds a resting sell candidate at the given 1e6-scaled price.
func askCandidate(id int, price, remaining int64) Candidate {
	maker := sellOrder(domain.TokenOutcomeA, remaining, remaining*price/domain.PriceScale)
	return Candidate{
		Hash:      common.HexToHash(fmt.Sprintf("0x%02x", id)),
		Order:     maker,
		Remaining: big.NewInt(remaining),
		Price:     price,
		CreatedAt: time.Unix(int64(id), 0),
	}
}

func TestAccumulateFillsPriceTimeSweep(t *testing.T) {
	taker := buyOrder(domain.TokenOutcomeA, 60, 100) // bid 0.60 for 100 units

	candidates := []Candidate{
		askCandidate(1, 550_000, 60),
		askCandidate(2, 580_000, 50),
		askCandidate(3, 650_000, 30), // above the limit, never touched
	}

	fills := accumulateFills(taker, taker.TokenUnits(), Price(taker), candidates, domain.MaxMakersPerMatch)
	require.Len(t, fills, 2)

	assert.Equal(t, candidates[0].Hash, fills[0].cand.Hash)
	assert.Equal(t, int64(60), fills[0].size.Int64())
	assert.Equal(t, candidates[1].Hash, fills[1].cand.Hash)
	assert.Equal(t, int64(40), fills[1].size.Int64())
}

func TestAccumulateFillsNeverOverfills(t *testing.T) {
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	candidates := []Candidate{
		askCandidate(1, 500_000, 70),
		askCandidate(2, 510_000, 70),
		askCandidate(3, 520_000, 70),
	}

	fills := accumulateFills(taker, taker.TokenUnits(), Price(taker), candidates, 0)
	total := new(big.Int)
	for _, f := range fills {
		assert.LessOrEqual(t, f.size.Int64(), int64(70))
		total.Add(total, f.size)
	}
	assert.Equal(t, int64(100), total.Int64())
}

func TestAccumulateFillsHonorsPartialRemaining(t *testing.T) {
	// A 100-unit taker with only 40 units left after earlier fills must
	// never sweep more than those 40 units.
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	candidates := []Candidate{
		askCandidate(1, 550_000, 60),
		askCandidate(2, 580_000, 50),
	}

	fills := accumulateFills(taker, big.NewInt(40), Price(taker), candidates, domain.MaxMakersPerMatch)
	require.Len(t, fills, 1)
	assert.Equal(t, candidates[0].Hash, fills[0].cand.Hash)
	assert.Equal(t, int64(40), fills[0].size.Int64())

	// A nil remaining falls back to the order's full size.
	fills = accumulateFills(taker, nil, Price(taker), candidates, domain.MaxMakersPerMatch)
	total := new(big.Int)
	for _, f := range fills {
		total.Add(total, f.size)
	}
	assert.Equal(t, int64(100), total.Int64())
}

func TestAccumulateFillsMakerCap(t *testing.T) {
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	var candidates []Candidate
	for i := 1; i <= 8; i++ {
		candidates = append(candidates, askCandidate(i, 550_000, 10))
	}

	fills := accumulateFills(taker, taker.TokenUnits(), Price(taker), candidates, domain.MaxMakersPerMatch)
	assert.Len(t, fills, domain.MaxMakersPerMatch)

	// Zero lifts the cap entirely.
	fills = accumulateFills(taker, taker.TokenUnits(), Price(taker), candidates, 0)
	assert.Len(t, fills, 8)
}

func TestAccumulateFillsSkipsExhaustedCandidates(t *testing.T) {
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	drained := askCandidate(1, 550_000, 0)
	nilRemaining := askCandidate(2, 550_000, 10)
	nilRemaining.Remaining = nil
	live := askCandidate(3, 550_000, 40)

	fills := accumulateFills(taker, taker.TokenUnits(), Price(taker), []Candidate{drained, nilRemaining, live}, 0)
	require.Len(t, fills, 1)
	assert.Equal(t, live.Hash, fills[0].cand.Hash)
}

func TestCrossesLimit(t *testing.T) {
	buy := buyOrder(domain.TokenOutcomeA, 60, 100)
	assert.True(t, crossesLimit(buy, 600_000, 550_000))
	assert.True(t, crossesLimit(buy, 600_000, 600_000))
	assert.False(t, crossesLimit(buy, 600_000, 650_000))
	assert.False(t, crossesLimit(buy, 600_000, 0))

	sell := sellOrder(domain.TokenOutcomeA, 100, 55)
	assert.True(t, crossesLimit(sell, 550_000, 600_000))
	assert.True(t, crossesLimit(sell, 550_000, 550_000))
	assert.False(t, crossesLimit(sell, 550_000, 500_000))
}

func TestPriceFillsExecuteAtMakerPrice(t *testing.T) {
	f := NewFeeEngine(nil, discardLogger())
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)
	takerHash := common.HexToHash("0xbeef")

	proposals := []proposedFill{
		{cand: askCandidate(1, 550_000, 60), size: big.NewInt(60)},
		{cand: askCandidate(2, 580_000, 50), size: big.NewInt(40)},
	}

	fills := f.priceFills(context.Background(), taker, takerHash, domain.KindLimit, proposals)
	require.Len(t, fills, 2)

	assert.Equal(t, int64(550_000), fills[0].Price)
	assert.Equal(t, int64(33), fills[0].Cost.Int64()) // 60 * 0.55
	assert.Equal(t, int64(580_000), fills[1].Price)
	assert.Equal(t, int64(23), fills[1].Cost.Int64()) // 40 * 0.58, truncated

	for _, fill := range fills {
		assert.Equal(t, takerHash, fill.TakerHash)
		assert.Equal(t, taker.Maker, fill.Taker)
		// Limit takers pay no fee.
		assert.Zero(t, fill.Fees.TakerFee.Sign())
	}
}

func TestPriceFillsMarketOrdersPayDynamicRate(t *testing.T) {
	f := NewFeeEngine(nil, discardLogger())
	cfg := domain.DefaultFeeConfig()
	taker := buyOrder(domain.TokenOutcomeA, 60, 100)

	proposals := []proposedFill{
		{cand: askCandidate(1, 500_000, 10_000), size: big.NewInt(10_000)},
	}

	fills := f.priceFills(context.Background(), taker, common.HexToHash("0xbeef"), domain.KindMarket, proposals)
	require.Len(t, fills, 1)

	cost := fills[0].Cost
	want := f.Breakdown(cfg, cost, DynamicRate(cfg, 500_000))
	assert.Zero(t, fills[0].Fees.TakerFee.Cmp(want.TakerFee))
	assert.Positive(t, fills[0].Fees.TakerFee.Sign())
}
