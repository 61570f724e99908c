package risk

import (
	"math"
	"math/big"

	"github.com/mbd888/mevguard/internal/gas"
)

// Contribution weights.
const (
	weightHighGas      = 30
	weightLargeValue   = 25
	weightNoSlippage   = 35
	weightTradeKind    = 20
	maxContextPoints   = 15.0
	contextWarnAbove   = 10.0
	maxScore           = 100
	defaultHighGasGwei = 100
)

const (
	warnHighGas    = "High gas price detected - attractive to MEV bots"
	warnNoSlippage = "No slippage protection - vulnerable to sandwich attacks"
	warnTradeKind  = "Swap/trade transactions are common MEV targets"
	warnContext    = "Similar transaction patterns detected in mempool"
)

type advice struct {
	recommendation string
	action         string
}

var adviceByLevel = map[Level]advice{
	LevelHigh: {
		recommendation: "HIGH RISK - Strongly recommend using Flashbots private relay",
		action:         "Use Flashbots to protect this transaction from front-running",
	},
	LevelMedium: {
		recommendation: "MEDIUM RISK - Consider using Flashbots for added protection",
		action:         "Flashbots recommended to prevent potential MEV extraction",
	},
	LevelLow: {
		recommendation: "LOW RISK - Transaction appears safe, but Flashbots still recommended for large amounts",
		action:         "Optional Flashbots protection for maximum security",
	},
}

// Scorer assesses pending transactions. Safe for concurrent use once configured.
type Scorer struct {
	highGasPrice *big.Int
	largeValue   *big.Int
}

// NewScorer creates a scorer with the reference thresholds: 100 gwei and 1 ETH.
func NewScorer() *Scorer {
	largeValue, _ := gas.ParseETH("1")
	return &Scorer{
		highGasPrice: gas.Gwei(defaultHighGasGwei),
		largeValue:   largeValue,
	}
}

// WithHighGasPrice overrides the high-priority gas price threshold (wei).
func (s *Scorer) WithHighGasPrice(wei *big.Int) *Scorer {
	s.highGasPrice = new(big.Int).Set(wei)
	return s
}

// WithLargeValue overrides the large-transaction threshold (wei).
func (s *Scorer) WithLargeValue(wei *big.Int) *Scorer {
	s.largeValue = new(big.Int).Set(wei)
	return s
}

// HighGasPrice returns the gas price threshold in wei.
func (s *Scorer) HighGasPrice() *big.Int {
	return new(big.Int).Set(s.highGasPrice)
}

// LargeValue returns the large-transaction threshold in wei.
func (s *Scorer) LargeValue() *big.Int {
	return new(big.Int).Set(s.largeValue)
}

// IsLargeValue reports whether value strictly exceeds the large-transaction threshold.
func (s *Scorer) IsLargeValue(value *big.Int) bool {
	return gas.NonNegative(value).Cmp(s.largeValue) > 0
}

// Assess scores tx. contextSignal is clamped to [0,1]. Every contribution is
// evaluated and each one that fires appends its warning in a fixed order.
func (s *Scorer) Assess(tx *PendingTransaction, contextSignal float64) *Assessment {
	if tx == nil {
		tx = &PendingTransaction{}
	}

	var total float64
	warnings := make([]string, 0, 5)

	if gas.NonNegative(tx.GasPrice).Cmp(s.highGasPrice) > 0 {
		total += weightHighGas
		warnings = append(warnings, warnHighGas)
	}

	if s.IsLargeValue(tx.Value) {
		total += weightLargeValue
		warnings = append(warnings, "Large transaction value ("+gas.FormatETH(tx.Value, 4)+" ETH) - high MEV potential")
	}

	if !tx.Protected() {
		total += weightNoSlippage
		warnings = append(warnings, warnNoSlippage)
	}

	if tx.Kind.IsTrade() {
		total += weightTradeKind
		warnings = append(warnings, warnTradeKind)
	}

	contextPoints := clampUnit(contextSignal) * maxContextPoints
	total += contextPoints
	// The warning stays quiet for weak context on purpose; the points still count.
	if contextPoints > contextWarnAbove {
		warnings = append(warnings, warnContext)
	}

	score := int(math.Round(total))
	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}

	level := LevelForScore(score)
	adv := adviceByLevel[level]

	return &Assessment{
		Score:             score,
		Level:             level,
		Warnings:          warnings,
		Recommendation:    adv.recommendation,
		RecommendedAction: adv.action,
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
