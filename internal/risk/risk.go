// Package risk scores pending transactions for front-running and sandwich risk.
//
// Every transaction is evaluated against five additive contributions: gas
// price, value, slippage protection, transaction kind and a context signal
// describing how busy the live feed is with similar patterns. Scores range
// from 0 (safe) to 100 (almost certainly targeted) and map onto three levels.
package risk

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/mevguard/internal/pagination"
)

// Kind is the category of a pending transaction.
type Kind string

const (
	KindSwap     Kind = "swap"
	KindTrade    Kind = "trade"
	KindTransfer Kind = "transfer"
	KindWithdraw Kind = "withdraw"
	KindDeposit  Kind = "deposit"
)

// IsTrade reports whether the kind is a swap or an equivalent trade.
func (k Kind) IsTrade() bool {
	return k == KindSwap || k == KindTrade
}

// Level buckets a risk score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Level thresholds, inclusive on the high side.
const (
	MediumThreshold = 40
	HighThreshold   = 70
)

// LevelForScore maps a score onto its level.
func LevelForScore(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PendingTransaction is a transaction observed in, or headed for, the mempool.
// Amounts are in wei. A nil or negative amount counts as zero.
type PendingTransaction struct {
	To                    string
	Value                 *big.Int
	GasPrice              *big.Int
	Data                  []byte
	Kind                  Kind
	HasSlippageProtection bool
	MinAmountOut          *big.Int
}

// Protected reports whether the transaction guards its output amount.
func (tx *PendingTransaction) Protected() bool {
	return tx.HasSlippageProtection || tx.MinAmountOut != nil
}

// Assessment is the result of scoring a single transaction.
type Assessment struct {
	Score             int      `json:"riskScore"`
	Level             Level    `json:"riskLevel"`
	Warnings          []string `json:"warnings"`
	Recommendation    string   `json:"recommendation"`
	RecommendedAction string   `json:"recommendationAction"`
}

// Record is an audited simulation assessment.
type Record struct {
	ID              string    `json:"id"`
	ContractAddress string    `json:"contractAddress"`
	Score           int       `json:"riskScore"`
	Level           Level     `json:"riskLevel"`
	Warnings        []string  `json:"warnings"`
	RelayAdvised    bool      `json:"relayAdvised"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// Store persists assessments for audit trail.
type Store interface {
	Record(ctx context.Context, rec *Record) error
	// ListByContract returns up to limit records newest first, starting
	// after before when it is non-nil.
	ListByContract(ctx context.Context, contractAddress string, before *pagination.Cursor, limit int) ([]*Record, error)
}
