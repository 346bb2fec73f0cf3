// Package metrics provides Prometheus metrics for Parley: counters and
// histograms for asks, fallbacks, the engine lifecycle, and catalog
// fetches. Exposed on /metrics when telemetry is enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Inference ──────────────────────────────────────────────────────────────

// AskLatency tracks question-answer duration in seconds by backend.
var AskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "parley",
	Name:      "ask_latency_seconds",
	Help:      "Ask request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"source"})

// AsksTotal counts answered questions by backend.
var AsksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "asks_total",
	Help:      "Total questions answered.",
}, []string{"source"})

// AskFailures counts failed asks by backend.
var AskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "ask_failures_total",
	Help:      "Total failed asks.",
}, []string{"source"})

// Fallbacks counts remote→local fallbacks.
var Fallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "fallbacks_total",
	Help:      "Total remote requests re-routed to the local engine.",
})

// ─── Engine ─────────────────────────────────────────────────────────────────

// EngineStarts counts engine process launches.
var EngineStarts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "engine_starts_total",
	Help:      "Total local engine process launches.",
})

// WarmupsTotal counts model pre-warm attempts by outcome.
var WarmupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "warmups_total",
	Help:      "Total model warm-up attempts.",
}, []string{"outcome"})

// ─── Catalog ────────────────────────────────────────────────────────────────

// CatalogFetches counts registry list requests by serving source.
var CatalogFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parley",
	Name:      "catalog_fetches_total",
	Help:      "Registry catalog fetches by source (primary, secondary, static, cache).",
}, []string{"source"})
