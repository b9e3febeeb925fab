// Package upsmetrics defines Prometheus metrics for the upstream
// selection core and a watcher adapter that drives them from
// upstream.Event notifications. All metrics use the "upstreamd_"
// namespace.
package upsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mailward/upstream/pkg/upstream"
)

const namespace = "upstreamd"

var (
	// Failures counts Fail() reports, by list and upstream name.
	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_failures_total",
		Help:      "Total failure reports against an upstream.",
	}, []string{"list", "upstream"})

	// Successes counts Ok() reports that actually cleared an error state.
	Successes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_successes_total",
		Help:      "Total recoveries (error state cleared) for an upstream.",
	}, []string{"list", "upstream"})

	// Ejections counts OFFLINE transitions.
	Ejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_offline_total",
		Help:      "Total times an upstream was ejected from its list's alive set.",
	}, []string{"list", "upstream"})

	// Revivals counts ONLINE transitions.
	Revivals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_online_total",
		Help:      "Total times an upstream rejoined its list's alive set.",
	}, []string{"list", "upstream"})

	// Alive is a gauge of upstreams currently alive, per list.
	Alive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_alive",
		Help:      "Number of upstreams currently alive in a list.",
	}, []string{"list"})
)

// Watch registers a watcher on list that drives the package's counters
// and keeps Alive{listName} in sync on every event.
func Watch(listName string, list *upstream.UpstreamList) {
	list.AddWatchCallback(upstream.EventAll, func(u *upstream.Upstream, event upstream.Event, _ uint, _ any) {
		name := u.Name()
		switch event {
		case upstream.EventFailure:
			Failures.WithLabelValues(listName, name).Inc()
		case upstream.EventSuccess:
			Successes.WithLabelValues(listName, name).Inc()
		case upstream.EventOffline:
			Ejections.WithLabelValues(listName, name).Inc()
		case upstream.EventOnline:
			Revivals.WithLabelValues(listName, name).Inc()
		}
		Alive.WithLabelValues(listName).Set(float64(list.AliveCount()))
	}, nil, nil)
}
