package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/catallaxyz/matchd/internal/domain"
)

func TestValidateOrder(t *testing.T) {
	valid := buyOrder(domain.TokenOutcomeA, 60, 100)

	cases := []struct {
		name   string
		mutate func(*domain.Order)
		ok     bool
	}{
		{"valid buy", func(o *domain.Order) {}, true},
		{"valid sell", func(o *domain.Order) { o.Side = domain.SideSell }, true},
		{"fee rate at cap", func(o *domain.Order) { o.FeeRateBps = domain.MaxFeeRateBps }, true},
		{"fee rate over cap", func(o *domain.Order) { o.FeeRateBps = domain.MaxFeeRateBps + 1 }, false},
		{"unknown token id", func(o *domain.Order) { o.TokenID = 3 }, false},
		{"unknown side", func(o *domain.Order) { o.Side = 2 }, false},
		{"nil maker amount", func(o *domain.Order) { o.MakerAmount = nil }, false},
		{"zero maker amount", func(o *domain.Order) { o.MakerAmount = big.NewInt(0) }, false},
		{"negative maker amount", func(o *domain.Order) { o.MakerAmount = big.NewInt(-1) }, false},
		{"nil taker amount", func(o *domain.Order) { o.TakerAmount = nil }, false},
		{"zero taker amount", func(o *domain.Order) { o.TakerAmount = big.NewInt(0) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := valid
			tc.mutate(&o)
			res := ValidateOrder(o)
			assert.Equal(t, tc.ok, res.OK)
			if tc.ok {
				assert.Empty(t, res.Reasons)
			} else {
				assert.NotEmpty(t, res.Reasons)
			}
		})
	}
}

func TestValidateOrderCollectsAllViolations(t *testing.T) {
	o := domain.Order{
		Maker:      "alice",
		Market:     "mkt-1",
		TokenID:    9,
		Side:       7,
		FeeRateBps: 5000,
	}
	res := ValidateOrder(o)
	assert.False(t, res.OK)
	assert.Len(t, res.Reasons, 5)
	assert.Contains(t, res.Reason(), "; ")
}
