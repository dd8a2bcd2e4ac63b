package engine

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/catallaxyz/matchd/internal/domain"
)

// buyOrder offers collateral for tokens of the given outcome.
func buyOrder(token domain.TokenID, collateral, tokens int64) domain.Order {
	return domain.Order{
		Maker:       "alice",
		Signer:      "alice",
		Market:      "mkt-1",
		TokenID:     token,
		MakerAmount: big.NewInt(collateral),
		TakerAmount: big.NewInt(tokens),
		Side:        domain.SideBuy,
	}
}

// sellOrder offers tokens of the given outcome for collateral.
func sellOrder(token domain.TokenID, tokens, collateral int64) domain.Order {
	return domain.Order{
		Maker:       "bob",
		Signer:      "bob",
		Market:      "mkt-1",
		TokenID:     token,
		MakerAmount: big.NewInt(tokens),
		TakerAmount: big.NewInt(collateral),
		Side:        domain.SideSell,
	}
}

func TestPrice(t *testing.T) {
	// 60 collateral for 100 tokens = 0.60 per token.
	assert.Equal(t, int64(600_000), Price(buyOrder(domain.TokenOutcomeA, 60, 100)))
	// 100 tokens for 55 collateral = 0.55 per token.
	assert.Equal(t, int64(550_000), Price(sellOrder(domain.TokenOutcomeA, 100, 55)))
	// Truncating division: 1/3 at scale 1e6.
	assert.Equal(t, int64(333_333), Price(buyOrder(domain.TokenOutcomeA, 1, 3)))
}

func TestPriceDegenerate(t *testing.T) {
	o := buyOrder(domain.TokenOutcomeA, 60, 0)
	assert.Equal(t, int64(0), Price(o))

	o.TakerAmount = nil
	assert.Equal(t, int64(0), Price(o))

	o = sellOrder(domain.TokenOutcomeA, 0, 55)
	assert.Equal(t, int64(0), Price(o))
}

func TestPriceOverflowClamps(t *testing.T) {
	o := buyOrder(domain.TokenOutcomeA, 0, 1)
	o.MakerAmount = new(big.Int).Lsh(big.NewInt(1), 80)
	assert.Equal(t, int64(math.MaxInt64), Price(o))
}

func TestPriceDeterministic(t *testing.T) {
	o := buyOrder(domain.TokenOutcomeA, 7, 13)
	first := Price(o)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Price(o))
	}
}

func TestComplement(t *testing.T) {
	assert.Equal(t, domain.TokenOutcomeB, Complement(domain.TokenOutcomeA))
	assert.Equal(t, domain.TokenOutcomeA, Complement(domain.TokenOutcomeB))
	assert.Equal(t, domain.TokenCollateral, Complement(domain.TokenCollateral))
}

func TestDetermineMatchType(t *testing.T) {
	buyA := buyOrder(domain.TokenOutcomeA, 60, 100)
	buyB := buyOrder(domain.TokenOutcomeB, 40, 100)
	sellA := sellOrder(domain.TokenOutcomeA, 100, 55)
	sellB := sellOrder(domain.TokenOutcomeB, 100, 45)
	buyColl := buyOrder(domain.TokenCollateral, 50, 50)
	sellColl := sellOrder(domain.TokenCollateral, 50, 50)

	cases := []struct {
		name  string
		taker domain.Order
		maker domain.Order
		want  domain.MatchType
	}{
		{"buy vs sell same token", buyA, sellA, domain.MatchComplementary},
		{"sell vs buy same token", sellA, buyA, domain.MatchComplementary},
		{"two buys distinct outcomes", buyA, buyB, domain.MatchMint},
		{"two sells distinct outcomes", sellA, sellB, domain.MatchMerge},
		{"two buys same token", buyA, buyA, domain.MatchNone},
		{"two sells same token", sellA, sellA, domain.MatchNone},
		{"buy pair with collateral taker", buyColl, buyB, domain.MatchNone},
		{"sell pair with collateral maker", sellA, sellColl, domain.MatchNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineMatchType(tc.taker, tc.maker))
		})
	}
}

func TestIsCrossingComplementary(t *testing.T) {
	// Buying taker at 0.60 crosses an ask of 0.55 but not one of 0.65.
	buy60 := buyOrder(domain.TokenOutcomeA, 60, 100)
	assert.True(t, IsCrossing(buy60, sellOrder(domain.TokenOutcomeA, 100, 55), domain.MatchComplementary))
	assert.False(t, IsCrossing(buy60, sellOrder(domain.TokenOutcomeA, 100, 65), domain.MatchComplementary))
	// Equal prices cross.
	assert.True(t, IsCrossing(buy60, sellOrder(domain.TokenOutcomeA, 100, 60), domain.MatchComplementary))

	// Selling taker asking 0.55 crosses a standing bid of 0.60 but not 0.50.
	sell55 := sellOrder(domain.TokenOutcomeA, 100, 55)
	assert.True(t, IsCrossing(sell55, buyOrder(domain.TokenOutcomeA, 60, 100), domain.MatchComplementary))
	assert.False(t, IsCrossing(sell55, buyOrder(domain.TokenOutcomeA, 50, 100), domain.MatchComplementary))
}

func TestIsCrossingMintMerge(t *testing.T) {
	// Mint: two buy prices must sum to at most 1.0.
	assert.True(t, IsCrossing(
		buyOrder(domain.TokenOutcomeA, 40, 100),
		buyOrder(domain.TokenOutcomeB, 55, 100),
		domain.MatchMint))
	assert.False(t, IsCrossing(
		buyOrder(domain.TokenOutcomeA, 60, 100),
		buyOrder(domain.TokenOutcomeB, 55, 100),
		domain.MatchMint))

	// Merge: two sell prices must sum to at least 1.0.
	assert.True(t, IsCrossing(
		sellOrder(domain.TokenOutcomeA, 100, 60),
		sellOrder(domain.TokenOutcomeB, 100, 55),
		domain.MatchMerge))
	assert.False(t, IsCrossing(
		sellOrder(domain.TokenOutcomeA, 100, 40),
		sellOrder(domain.TokenOutcomeB, 100, 55),
		domain.MatchMerge))
}

func TestIsCrossingZeroPriceNeverCrosses(t *testing.T) {
	degenerate := buyOrder(domain.TokenOutcomeA, 60, 0)
	ask := sellOrder(domain.TokenOutcomeA, 100, 55)
	assert.False(t, IsCrossing(degenerate, ask, domain.MatchComplementary))
	assert.False(t, IsCrossing(ask, degenerate, domain.MatchComplementary))
}

func TestCrosses(t *testing.T) {
	mt, ok := Crosses(buyOrder(domain.TokenOutcomeA, 60, 100), sellOrder(domain.TokenOutcomeA, 100, 55))
	assert.Equal(t, domain.MatchComplementary, mt)
	assert.True(t, ok)

	// Same side, same token: no classification, no crossing check.
	mt, ok = Crosses(buyOrder(domain.TokenOutcomeA, 60, 100), buyOrder(domain.TokenOutcomeA, 40, 100))
	assert.Equal(t, domain.MatchNone, mt)
	assert.False(t, ok)
}

func TestTakingAmount(t *testing.T) {
	// 50 of a 100-for-60 order takes 30.
	got := TakingAmount(big.NewInt(50), big.NewInt(100), big.NewInt(60))
	assert.Equal(t, int64(30), got.Int64())

	// Zero divisor yields zero, not a panic.
	got = TakingAmount(big.NewInt(50), big.NewInt(0), big.NewInt(60))
	assert.Equal(t, int64(0), got.Int64())

	got = TakingAmount(big.NewInt(50), nil, big.NewInt(60))
	assert.Equal(t, int64(0), got.Int64())
}
