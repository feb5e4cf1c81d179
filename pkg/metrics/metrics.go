// Package metrics exposes Prometheus instrumentation for the tenancy core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolSessionsLive tracks the number of schema-bound sessions currently
	// held by the pool (checked out or idle).
	PoolSessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capliquify_pool_sessions_live",
		Help: "Number of schema-bound sessions currently held by the pool.",
	})

	// PoolCheckouts tracks sessions currently checked out by callers.
	PoolCheckouts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capliquify_pool_checkouts",
		Help: "Number of sessions currently checked out.",
	})

	PoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capliquify_pool_hits_total",
		Help: "Acquisitions served from an existing schema session.",
	})

	PoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capliquify_pool_misses_total",
		Help: "Acquisitions that created a new schema session.",
	})

	PoolEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capliquify_pool_evictions_total",
		Help: "Idle schema sessions evicted to stay within the pool bound.",
	})

	// WebhookEvents counts processed webhook deliveries by event type and
	// outcome (processed, failed, ignored).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capliquify_webhook_events_total",
		Help: "Webhook deliveries by event type and outcome.",
	}, []string{"type", "outcome"})

	// ProvisioningTotal counts provisioning attempts by outcome
	// (created, already_existed, failed).
	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capliquify_provisioning_total",
		Help: "Tenant provisioning attempts by outcome.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
