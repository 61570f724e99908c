// Package threat turns feed signals into detected MEV threats.
//
// Classification sits behind the Classifier interface so the placeholder
// random classifier can be swapped for transaction-level heuristics without
// touching the ledger or the session manager.
package threat

import (
	"time"

	"github.com/mbd888/mevguard/internal/risk"
)

// Type is the attack taxonomy.
type Type string

const (
	TypeSandwich      Type = "Sandwich Attack"
	TypeFrontRunning  Type = "Front-Running"
	TypeBackRunning   Type = "Back-Running"
	TypeMEVExtraction Type = "MEV Extraction"
)

// Types lists every attack type in a stable order.
var Types = []Type{TypeSandwich, TypeFrontRunning, TypeBackRunning, TypeMEVExtraction}

// Threat is a detected adverse event. Never mutated after creation.
type Threat struct {
	ID                      string  `json:"id"`
	ContractAddress         string  `json:"contractAddress"`
	Type                    Type    `json:"type"`
	Risk                    int     `json:"risk"`
	SlippageEstimatePercent float64 `json:"slippageEstimatePercent"`
	AffectedUser            string  `json:"userAffected"`
	Timestamp               int64   `json:"timestamp"` // unix ms
	TransactionHash         string  `json:"transactionHash"`
	GasPriceGwei            int64   `json:"gasPriceGwei"`
	PotentialLossEstimate   float64 `json:"potentialLoss"`
	PotentialLossUSD        float64 `json:"potentialLossUsd,omitempty"`
}

// Time returns the detection time.
func (t *Threat) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Signal is one unit of work delivered by a transaction feed.
type Signal struct {
	ContractAddress string
	TxHash          string
	From            string
	Tx              *risk.PendingTransaction // nil for synthetic ticks
	ObservedAt      time.Time
	Synthetic       bool
}

// Classifier decides whether a signal is a threat.
type Classifier interface {
	Classify(sig Signal) (*Threat, bool)
}

// LossPricer converts an ether-denominated loss to USD.
type LossPricer interface {
	USD(eth float64) float64
}
