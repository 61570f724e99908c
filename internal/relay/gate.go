// Package relay decides when a transaction should bypass the public mempool
// and submits signed transactions to a private bundle relay.
package relay

import (
	"math/big"

	"github.com/mbd888/mevguard/internal/gas"
	"github.com/mbd888/mevguard/internal/risk"
)

// Decision is the relay advice for one transaction.
type Decision struct {
	Advised bool   `json:"advised"`
	Reason  string `json:"reason"`
}

// Gate maps an assessment to relay advice. Large transactions are always
// advised, whatever their risk level.
type Gate struct {
	largeValue *big.Int
}

// NewGate creates a gate sharing the scorer's large-transaction threshold.
func NewGate(scorer *risk.Scorer) *Gate {
	return &Gate{largeValue: scorer.LargeValue()}
}

// Decide returns the relay advice for tx. A nil assessment counts as LOW.
func (g *Gate) Decide(tx *risk.PendingTransaction, a *risk.Assessment) Decision {
	level := risk.LevelLow
	if a != nil {
		level = a.Level
	}

	var value *big.Int
	if tx != nil {
		value = tx.Value
	}
	large := gas.NonNegative(value).Cmp(g.largeValue) > 0

	switch {
	case level == risk.LevelHigh:
		return Decision{Advised: true, Reason: "HIGH risk level: submit through a private relay"}
	case level == risk.LevelMedium:
		return Decision{Advised: true, Reason: "MEDIUM risk level: private relay recommended"}
	case large:
		return Decision{
			Advised: true,
			Reason:  "Large-value override: value exceeds " + gas.FormatETH(g.largeValue, 4) + " ETH, private relay advised at any risk level",
		}
	default:
		return Decision{Advised: false, Reason: "LOW risk level and value within the large-transaction threshold"}
	}
}
