// Package metrics wires the supplemented /metrics surface from
// SPEC_FULL.md §4.1/§4.6/§3: Prometheus counters and gauges for feed
// reconnects/parse errors, per-pair engine state, retained snapshot
// counts, and active LiveSession count.
//
// Grounded on the teacher's own numUpdateCall/numSnapshotCall atomics
// in internal/orderbook/orderbook.go, generalized here from ad-hoc
// counters logged on demand into real github.com/prometheus/client_golang
// collectors, a dependency already present in the retrieval pack
// (fd1az/arbitrage-bot's go.mod) for exactly this job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the market-data plane exposes.
type Registry struct {
	FeedReconnects   prometheus.Counter
	FeedParseErrors  prometheus.Counter
	EngineState      *prometheus.GaugeVec // labels: pair
	SnapshotsStored  *prometheus.GaugeVec // labels: pair
	BroadcastDropped *prometheus.CounterVec // labels: pair, channel
	ActiveSessions   prometheus.Gauge
}

// New registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() for isolated tests, or the default
// registry in production.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Number of times the upstream feed connection was reestablished.",
		}),
		FeedParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "feed",
			Name:      "parse_errors_total",
			Help:      "Number of upstream frames that failed to parse.",
		}),
		EngineState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketdata",
			Subsystem: "engine",
			Name:      "state",
			Help:      "Current engine state per pair (0=init, 1=live, 2=awaiting_snapshot).",
		}, []string{"pair"}),
		SnapshotsStored: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketdata",
			Subsystem: "snapshotstore",
			Name:      "stored_snapshots",
			Help:      "Number of snapshots currently retained per pair.",
		}, []string{"pair"}),
		BroadcastDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Number of times a lagging consumer missed a published message.",
		}, []string{"pair", "channel"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketdata",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently open LiveSession WebSocket connections.",
		}),
	}
}
