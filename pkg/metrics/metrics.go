// Package metrics exposes Prometheus gauges and counters for the engine's
// hot paths (matching, liquidation, lending accrual), importing
// prometheus/client_golang directly (go.mod still lists it as indirect).
// Grounded on the shape of the teacher's pkg/api server: a small set of
// package-level collectors registered once at process start and read by an
// HTTP handler. No package in this module updates these collectors or
// mounts Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FillsTotal counts every Fill event emitted by the matching loop,
	// labeled by market.
	FillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_fills_total",
		Help: "Total number of Fill events emitted by the matching loop.",
	}, []string{"market"})

	// OutsTotal counts every Out event (eviction or expiry), labeled by market.
	OutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_outs_total",
		Help: "Total number of Out events emitted by the matching loop.",
	}, []string{"market"})

	// LiquidationsTotal counts liquidation instructions executed, labeled
	// by path (token_token, token_perp, perp_market, bankruptcy).
	LiquidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_liquidations_total",
		Help: "Total number of liquidation instructions executed.",
	}, []string{"path"})

	// BookDepth reports the live leaf count on each book side, labeled by
	// market and side.
	BookDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_book_depth",
		Help: "Current number of resting orders on one side of one market's book.",
	}, []string{"market", "side"})

	// LendingUtilization reports the last-computed utilization ratio per token.
	LendingUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_lending_utilization",
		Help: "Most recently computed utilization ratio for a lending bank.",
	}, []string{"token"})

	// AccountHealth reports the last-computed maint health per account,
	// useful for alerting on accounts approaching liquidation.
	AccountHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_account_maint_health",
		Help: "Most recently computed maintenance health for a margin account.",
	}, []string{"account"})
)

// Registry is a dedicated prometheus.Registry rather than the global
// default, so tests can construct an isolated instance (spec.md's
// ambient-stack expectation that test tooling stays hermetic).
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(FillsTotal, OutsTotal, LiquidationsTotal, BookDepth, LendingUtilization, AccountHealth)
}

// Handler returns the HTTP handler serving the registry in Prometheus
// exposition format. pkg/api's mux does not mount it.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
