package ledger

import "github.com/prometheus/client_golang/prometheus"

// Detected threats are counted by the detection pipeline
// (mevguard_threats_detected_total); the ledger only reports what it drops.
var evictionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mevguard",
		Name:      "ledger_evictions_total",
		Help:      "Threats evicted from full session ledgers.",
	},
)

func init() {
	prometheus.MustRegister(evictionsTotal)
}
