// Package simulation scores a transaction before it is broadcast and
// advises whether to route it through a private relay.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/mevguard/internal/gas"
	"github.com/mbd888/mevguard/internal/idgen"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/pagination"
	"github.com/mbd888/mevguard/internal/relay"
	"github.com/mbd888/mevguard/internal/risk"
	"github.com/mbd888/mevguard/internal/traces"
	"github.com/mbd888/mevguard/internal/validation"
)

// Slippage buckets reported to callers.
const (
	SlippageProtected   = "0-0.5%"
	SlippageUnprotected = "2-5%"
)

// Amount is a wire amount that may arrive as a JSON string, number or boolean.
// Booleans map to "1" and "" so flags like slippage: true read as present.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")):
		*a = ""
	case bytes.Equal(b, []byte("true")):
		*a = "1"
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
	case bytes.ContainsAny(b, ".eE"):
		// Expand exponent forms so 2e18 reads as 2000000000000000000 wei
		// rather than its leading digit.
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			*a = Amount(b)
			return nil
		}
		*a = Amount(d.String())
	default:
		*a = Amount(b)
	}
	return nil
}

// Set reports whether the amount parses to a positive number.
func (a Amount) Set() bool {
	if a == "" {
		return false
	}
	if gas.ParseAmount(string(a)).Sign() > 0 {
		return true
	}
	f, err := strconv.ParseFloat(string(a), 64)
	return err == nil && f > 0
}

// TransactionInput is the wire form of a transaction to simulate.
// Amounts are in wei.
type TransactionInput struct {
	To           string `json:"to"`
	Value        Amount `json:"value"`
	GasPrice     Amount `json:"gasPrice"`
	Data         string `json:"data"`
	Type         string `json:"type"`
	MinAmountOut Amount `json:"minAmountOut"`
	Slippage     Amount `json:"slippage"`
}

// Request is a simulation request.
type Request struct {
	Transaction     *TransactionInput `json:"transaction"`
	ContractAddress string            `json:"contractAddress"`
}

// Result is an assessment plus the derived advice.
type Result struct {
	*risk.Assessment
	EstimatedSlippage            string         `json:"estimatedSlippage"`
	EstimatedFrontRunProbability string         `json:"estimatedFrontRunProbability"`
	GasPrice                     string         `json:"gasPrice"`
	Value                        string         `json:"value"`
	ContractAddress              string         `json:"contractAddress"`
	ContextSignal                float64        `json:"contextSignal"`
	Relay                        relay.Decision `json:"relay"`
}

// SignalSource reports the live context signal for a contract.
type SignalSource interface {
	ContextSignal(contractAddress string) float64
}

// Service runs simulations.
type Service struct {
	scorer  *risk.Scorer
	gate    *relay.Gate
	signals SignalSource
	store   risk.Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a simulation service.
func NewService(scorer *risk.Scorer, gate *relay.Gate, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{scorer: scorer, gate: gate, logger: logger, now: time.Now}
}

// WithSignals feeds live detection density into scoring.
func (s *Service) WithSignals(src SignalSource) *Service {
	s.signals = src
	return s
}

// WithStore records every assessment for audit.
func (s *Service) WithStore(store risk.Store) *Service {
	s.store = store
	return s
}

// Parse converts the wire form into a pending transaction. Malformed
// amounts count as zero.
func (in *TransactionInput) Parse() *risk.PendingTransaction {
	kind := risk.Kind(strings.ToLower(strings.TrimSpace(in.Type)))
	if kind == "" {
		kind = risk.KindSwap
	}

	tx := &risk.PendingTransaction{
		To:                    in.To,
		Value:                 gas.ParseAmount(string(in.Value)),
		GasPrice:              gas.ParseAmount(string(in.GasPrice)),
		Kind:                  kind,
		HasSlippageProtection: in.MinAmountOut.Set() || in.Slippage.Set(),
	}
	if in.Data != "" {
		tx.Data = []byte(in.Data)
	}
	if in.MinAmountOut.Set() {
		tx.MinAmountOut = gas.ParseAmount(string(in.MinAmountOut))
	}
	return tx
}

// Simulate scores req. It fails only when the transaction is missing.
func (s *Service) Simulate(ctx context.Context, req Request) (*Result, error) {
	if errs := validation.Check(validation.Present("transaction", req.Transaction != nil)); len(errs) > 0 {
		return nil, errs
	}

	in := req.Transaction
	tx := in.Parse()

	address := in.To
	if address == "" {
		address = req.ContractAddress
	}
	if address == "" {
		address = "0x"
	}

	var signal float64
	if s.signals != nil {
		signalAddr := req.ContractAddress
		if signalAddr == "" {
			signalAddr = in.To
		}
		signal = s.signals.ContextSignal(signalAddr)
	}

	_, span := traces.StartSpan(ctx, "risk.assess", traces.ContractAddr(address))
	a := s.scorer.Assess(tx, signal)
	span.SetAttributes(traces.RiskScore(a.Score))
	span.End()

	metrics.AssessmentsTotal.WithLabelValues(string(a.Level)).Inc()
	metrics.RiskScore.Observe(float64(a.Score))

	slippage := SlippageUnprotected
	if tx.Protected() {
		slippage = SlippageProtected
	}

	result := &Result{
		Assessment:                   a,
		EstimatedSlippage:            slippage,
		EstimatedFrontRunProbability: fmt.Sprintf("%d%%", a.Score),
		GasPrice:                     orZero(in.GasPrice),
		Value:                        orZero(in.Value),
		ContractAddress:              address,
		ContextSignal:                signal,
		Relay:                        s.gate.Decide(tx, a),
	}

	if s.store != nil {
		rec := &risk.Record{
			ID:              idgen.WithPrefix("risk_"),
			ContractAddress: strings.ToLower(address),
			Score:           a.Score,
			Level:           a.Level,
			Warnings:        a.Warnings,
			RelayAdvised:    result.Relay.Advised,
			EvaluatedAt:     s.now().UTC(),
		}
		if err := s.store.Record(ctx, rec); err != nil {
			s.logger.Warn("failed to record assessment", "contract", address, "error", err)
		}
	}

	return result, nil
}

// HistoryPage is one page of the assessment audit trail.
type HistoryPage struct {
	Assessments []*risk.Record `json:"assessments"`
	Count       int            `json:"count"`
	NextCursor  string         `json:"nextCursor,omitempty"`
	HasMore     bool           `json:"hasMore"`
}

// History lists recorded assessments for a contract, newest first. cursor is
// the NextCursor of the previous page, or empty for the first.
func (s *Service) History(ctx context.Context, contractAddress, cursor string, limit int) (*HistoryPage, error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, validation.Errors{{Field: "cursor", Message: "must be a cursor returned by a previous page"}}
	}

	page := &HistoryPage{Assessments: []*risk.Record{}}
	if s.store == nil {
		return page, nil
	}

	records, err := s.store.ListByContract(ctx, strings.ToLower(contractAddress), before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	records, page.NextCursor = pagination.Page(records, limit, func(r *risk.Record) (time.Time, string) {
		return r.EvaluatedAt, r.ID
	})
	if len(records) > 0 {
		page.Assessments = records
	}
	page.Count = len(page.Assessments)
	page.HasMore = page.NextCursor != ""
	return page, nil
}

func orZero(a Amount) string {
	if a == "" {
		return "0"
	}
	return string(a)
}
