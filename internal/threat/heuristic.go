package threat

import (
	"math/big"
	"time"

	"github.com/mbd888/mevguard/internal/gas"
	"github.com/mbd888/mevguard/internal/idgen"
	"github.com/mbd888/mevguard/internal/risk"
)

// DefaultDetectionThreshold is the minimum score that produces a threat.
const DefaultDetectionThreshold = risk.MediumThreshold

// MinRisk is the lowest risk any classified threat carries.
const MinRisk = 30

// HeuristicClassifier scores decoded transactions and reports those that
// cross the detection threshold. Signals without a transaction are ignored.
type HeuristicClassifier struct {
	scorer      *risk.Scorer
	threshold   int
	lowGasPrice *big.Int
	pricer      LossPricer
	now         func() time.Time
}

// NewHeuristicClassifier creates a classifier on top of scorer.
func NewHeuristicClassifier(scorer *risk.Scorer) *HeuristicClassifier {
	return &HeuristicClassifier{
		scorer:      scorer,
		threshold:   DefaultDetectionThreshold,
		lowGasPrice: gas.Gwei(10),
		now:         time.Now,
	}
}

// WithThreshold sets the detection threshold, raised to MinRisk if lower.
func (c *HeuristicClassifier) WithThreshold(score int) *HeuristicClassifier {
	c.threshold = max(score, MinRisk)
	return c
}

// WithLowGasPrice sets the gas price under which a transaction looks like a back-run (wei).
func (c *HeuristicClassifier) WithLowGasPrice(wei *big.Int) *HeuristicClassifier {
	c.lowGasPrice = new(big.Int).Set(wei)
	return c
}

// WithPricer enables USD loss estimates.
func (c *HeuristicClassifier) WithPricer(p LossPricer) *HeuristicClassifier {
	c.pricer = p
	return c
}

func (c *HeuristicClassifier) Classify(sig Signal) (*Threat, bool) {
	tx := sig.Tx
	if tx == nil {
		return nil, false
	}

	a := c.scorer.Assess(tx, 0)
	if a.Score < c.threshold {
		return nil, false
	}

	gasPrice := gas.NonNegative(tx.GasPrice)

	// Unprotected trades can be bracketed; highly priced ones are racing
	// someone; cheap ones are trailing someone.
	var typ Type
	switch {
	case tx.Kind.IsTrade() && !tx.Protected():
		typ = TypeSandwich
	case gasPrice.Cmp(c.scorer.HighGasPrice()) > 0:
		typ = TypeFrontRunning
	case gasPrice.Sign() > 0 && gasPrice.Cmp(c.lowGasPrice) < 0:
		typ = TypeBackRunning
	default:
		typ = TypeMEVExtraction
	}

	slippage := 0.5 * float64(a.Score) / 100
	if !tx.Protected() {
		slippage = 2 + 3*float64(a.Score)/100
	}
	slippage = round2(slippage)

	valueETH, _ := gas.WeiToETH(gas.NonNegative(tx.Value)).Float64()

	now := sig.ObservedAt
	if now.IsZero() {
		now = c.now()
	}

	t := &Threat{
		ID:                      idgen.ThreatID(now),
		ContractAddress:         sig.ContractAddress,
		Type:                    typ,
		Risk:                    a.Score,
		SlippageEstimatePercent: slippage,
		AffectedUser:            sig.From,
		Timestamp:               now.UnixMilli(),
		TransactionHash:         sig.TxHash,
		GasPriceGwei:            gas.WeiToGwei(gasPrice),
		PotentialLossEstimate:   round4(valueETH * slippage / 100),
	}
	if c.pricer != nil {
		t.PotentialLossUSD = round2(c.pricer.USD(t.PotentialLossEstimate))
	}
	return t, true
}

// Chain routes synthetic ticks to one classifier and decoded transactions to another.
type Chain struct {
	Synthetic Classifier
	Decoded   Classifier
}

func (c Chain) Classify(sig Signal) (*Threat, bool) {
	if sig.Tx == nil || sig.Synthetic {
		if c.Synthetic == nil {
			return nil, false
		}
		return c.Synthetic.Classify(sig)
	}
	if c.Decoded == nil {
		return nil, false
	}
	return c.Decoded.Classify(sig)
}
