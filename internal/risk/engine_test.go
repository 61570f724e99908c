package risk

import (
	"math/big"
	"testing"

	"github.com/mbd888/mevguard/internal/gas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eth(t *testing.T, amount string) *big.Int {
	t.Helper()
	v, err := gas.ParseETH(amount)
	require.NoError(t, err)
	return v
}

func TestLevelForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{39, LevelLow},
		{40, LevelMedium},
		{69, LevelMedium},
		{70, LevelHigh},
		{100, LevelHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForScore(tt.score), "score %d", tt.score)
	}
}

func TestAssess_AllContributionsClampTo100(t *testing.T) {
	s := NewScorer()
	a := s.Assess(&PendingTransaction{
		GasPrice: gas.Gwei(150),
		Value:    eth(t, "2"),
		Kind:     KindSwap,
	}, 0)

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
	require.Len(t, a.Warnings, 4)
	assert.Equal(t, "High gas price detected - attractive to MEV bots", a.Warnings[0])
	assert.Equal(t, "Large transaction value (2.0000 ETH) - high MEV potential", a.Warnings[1])
	assert.Equal(t, "No slippage protection - vulnerable to sandwich attacks", a.Warnings[2])
	assert.Equal(t, "Swap/trade transactions are common MEV targets", a.Warnings[3])
	assert.Contains(t, a.Recommendation, "HIGH RISK")
}

func TestAssess_GasContributionIsExactly30(t *testing.T) {
	s := NewScorer()
	base := PendingTransaction{
		Value:                 eth(t, "0.1"),
		Kind:                  KindTransfer,
		HasSlippageProtection: true,
	}

	low := base
	low.GasPrice = gas.Gwei(20)
	high := base
	high.GasPrice = gas.Gwei(101)

	lowScore := s.Assess(&low, 0.4).Score
	highScore := s.Assess(&high, 0.4).Score
	assert.Equal(t, 30, highScore-lowScore)
}

func TestAssess_ThresholdsAreStrict(t *testing.T) {
	s := NewScorer()
	a := s.Assess(&PendingTransaction{
		GasPrice:              gas.Gwei(100),
		Value:                 eth(t, "1"),
		HasSlippageProtection: true,
	}, 0)
	assert.Equal(t, 0, a.Score)
	assert.Empty(t, a.Warnings)
	assert.Equal(t, LevelLow, a.Level)
}

func TestAssess_MinAmountOutCountsAsProtection(t *testing.T) {
	s := NewScorer()
	a := s.Assess(&PendingTransaction{Kind: KindSwap, MinAmountOut: big.NewInt(0)}, 0)
	assert.Equal(t, 20, a.Score)
	assert.Equal(t, []string{"Swap/trade transactions are common MEV targets"}, a.Warnings)
}

func TestAssess_ContextSignal(t *testing.T) {
	s := NewScorer()
	protected := &PendingTransaction{HasSlippageProtection: true, Kind: KindDeposit}

	a := s.Assess(protected, 1)
	assert.Equal(t, 15, a.Score)
	assert.Equal(t, []string{"Similar transaction patterns detected in mempool"}, a.Warnings)

	// Below the warning threshold the points count but stay silent.
	a = s.Assess(protected, 0.5)
	assert.Equal(t, 8, a.Score) // 7.5 rounds up
	assert.Empty(t, a.Warnings)

	// 0.7 gives 10.5 points, just over the warning threshold.
	assert.Len(t, s.Assess(protected, 0.7).Warnings, 1)
	assert.Empty(t, s.Assess(protected, 0.6).Warnings)

	// Out-of-range signals are clamped.
	assert.Equal(t, 15, s.Assess(protected, 7).Score)
	assert.Equal(t, 0, s.Assess(protected, -1).Score)
}

func TestAssess_MalformedAmountsContributeNothing(t *testing.T) {
	s := NewScorer()
	a := s.Assess(&PendingTransaction{
		GasPrice:              big.NewInt(-1),
		Value:                 nil,
		HasSlippageProtection: true,
	}, 0)
	assert.Equal(t, 0, a.Score)
	assert.Empty(t, a.Warnings)

	assert.Equal(t, 35, s.Assess(nil, 0).Score)
}

func TestAssess_MediumLevelAdvice(t *testing.T) {
	s := NewScorer()
	a := s.Assess(&PendingTransaction{Kind: KindTransfer}, 1) // 35 + 15
	assert.Equal(t, 50, a.Score)
	assert.Equal(t, LevelMedium, a.Level)
	assert.Contains(t, a.Recommendation, "MEDIUM RISK")
	assert.Equal(t, "Flashbots recommended to prevent potential MEV extraction", a.RecommendedAction)
}

func TestScorer_CustomThresholds(t *testing.T) {
	s := NewScorer().WithHighGasPrice(gas.Gwei(10)).WithLargeValue(eth(t, "0.5"))
	assert.True(t, s.IsLargeValue(eth(t, "0.6")))
	assert.False(t, s.IsLargeValue(nil))

	a := s.Assess(&PendingTransaction{GasPrice: gas.Gwei(11), Value: eth(t, "0.6"), HasSlippageProtection: true}, 0)
	assert.Equal(t, 55, a.Score)
	assert.Equal(t, "10000000000", s.HighGasPrice().String())
}
