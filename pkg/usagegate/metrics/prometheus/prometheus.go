package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements usagegate.Metrics using Prometheus.
type Metrics struct {
	decisionsTotal        *prometheus.CounterVec
	fastPathBlocksTotal   *prometheus.CounterVec
	authorityCallDuration *prometheus.HistogramVec
	authorityCallErrors   *prometheus.CounterVec
	snapshotRefreshTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_decisions_total",
			Help:      "Total number of metered-action decisions.",
		}, []string{"action", "tier", "allowed", "degraded"}),

		fastPathBlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_fast_path_blocks_total",
			Help:      "Total number of denials decided locally without a remote call.",
		}, []string{"action"}),

		authorityCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_authority_call_duration_seconds",
			Help:      "Latency of remote usage-service calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		authorityCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_authority_call_errors_total",
			Help:      "Total number of failed remote usage-service calls.",
		}, []string{"operation"}),

		snapshotRefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_snapshot_refresh_total",
			Help:      "Total number of snapshot refresh attempts.",
		}, []string{"success"}),
	}
}

func (m *Metrics) RecordDecision(action, tier string, allowed, degraded bool) {
	m.decisionsTotal.WithLabelValues(
		action, tier, strconv.FormatBool(allowed), strconv.FormatBool(degraded),
	).Inc()
}

func (m *Metrics) RecordFastPathBlock(action string) {
	m.fastPathBlocksTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordAuthorityCall(operation string, duration time.Duration, err error) {
	m.authorityCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.authorityCallErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordSnapshotRefresh(success bool) {
	m.snapshotRefreshTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
