package threat

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mbd888/mevguard/internal/gas"
	"github.com/mbd888/mevguard/internal/idgen"
)

// DefaultLossScale converts a slippage percentage into a loss estimate.
// Placeholder, not an economic model.
const DefaultLossScale = 1000

// RandomClassifier assigns type and risk by random draw. It stands in for
// real pattern analysis on synthetic ticks: every signal becomes a threat,
// with risk in [30,100] since only suspicious candidates reach it.
type RandomClassifier struct {
	mu        sync.Mutex
	rng       *rand.Rand
	lossScale float64
	pricer    LossPricer
	now       func() time.Time
}

// NewRandomClassifier creates a classifier seeded with seed.
func NewRandomClassifier(seed int64) *RandomClassifier {
	return &RandomClassifier{
		rng:       rand.New(rand.NewSource(seed)),
		lossScale: DefaultLossScale,
		now:       time.Now,
	}
}

// WithLossScale overrides the slippage-to-loss multiplier.
func (c *RandomClassifier) WithLossScale(scale float64) *RandomClassifier {
	c.lossScale = scale
	return c
}

// WithPricer enables USD loss estimates.
func (c *RandomClassifier) WithPricer(p LossPricer) *RandomClassifier {
	c.pricer = p
	return c
}

func (c *RandomClassifier) Classify(sig Signal) (*Threat, bool) {
	c.mu.Lock()
	typ := Types[c.rng.Intn(len(Types))]
	riskScore := int(math.Round(MinRisk + c.rng.Float64()*(100-MinRisk)))
	slippage := round2(c.rng.Float64() * 5)
	gasGwei := int64(math.Round(50 + c.rng.Float64()*200))
	c.mu.Unlock()

	now := sig.ObservedAt
	if now.IsZero() {
		now = c.now()
	}

	t := &Threat{
		ID:                      idgen.ThreatID(now),
		ContractAddress:         sig.ContractAddress,
		Type:                    typ,
		Risk:                    riskScore,
		SlippageEstimatePercent: slippage,
		AffectedUser:            orDefault(sig.From, idgen.Address),
		Timestamp:               now.UnixMilli(),
		TransactionHash:         orDefault(sig.TxHash, idgen.TxHash),
		GasPriceGwei:            gasGwei,
		PotentialLossEstimate:   round4(slippage * c.lossScale),
	}
	if sig.Tx != nil && sig.Tx.GasPrice != nil {
		t.GasPriceGwei = gas.WeiToGwei(sig.Tx.GasPrice)
	}
	if c.pricer != nil {
		t.PotentialLossUSD = round2(c.pricer.USD(t.PotentialLossEstimate))
	}
	return t, true
}

func orDefault(v string, gen func() string) string {
	if v != "" {
		return v
	}
	return gen()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
