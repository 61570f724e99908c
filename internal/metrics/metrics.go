// Package metrics exports Prometheus series for detection, risk scoring,
// relay submission and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mevguard"

// Detection
var (
	SignalsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_processed_total",
		Help:      "Feed signals processed, by source (synthetic or mempool).",
	}, []string{"source"})

	ThreatsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "threats_detected_total",
		Help:      "Threats classified, by attack type.",
	}, []string{"type"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Contracts currently under protection.",
	})
)

// Risk scoring
var (
	AssessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assessments_total",
		Help:      "Pre-broadcast risk assessments, by level.",
	}, []string{"level"})

	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of assessment scores.",
		Buckets:   prometheus.LinearBuckets(10, 10, 10),
	})
)

// Upstreams
var (
	RelaySubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_submissions_total",
		Help:      "Private relay submissions, by status.",
	}, []string{"status"})

	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Threat events handed to external sinks, by sink and result.",
	}, []string{"sink", "result"})

	ETHUSDPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "eth_usd_price",
		Help:      "ETH/USD rate used to price losses.",
	})

	PriceFetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_fetch_failures_total",
		Help:      "Failed ETH/USD price refreshes.",
	})
)

// API surface
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests, by method, route and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})

	ActiveWebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected threat-stream clients.",
	})
)
