package datasync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	operations     prometheus.Counter
	queueDepth     prometheus.Gauge
	deletionBlocks *prometheus.CounterVec
	remoteErrors   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sbasync_sync_cycles_total",
			Help: "Save and refresh cycles by kind and outcome",
		}, []string{"kind", "status"}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sbasync_sync_cycle_duration_seconds",
			Help:    "Duration of save and refresh cycles",
			Buckets: prometheus.DefBuckets,
		}),

		operations: factory.NewCounter(prometheus.CounterOpts{
			Name: "sbasync_uploaded_operations_total",
			Help: "Updated records and deleted ids sent to the remote store",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sbasync_offline_queue_depth",
			Help: "Writes waiting in the offline queue",
		}),

		deletionBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sbasync_mass_deletions_blocked_total",
			Help: "Deletion sets dropped by the mass-deletion check",
		}, []string{"category"}),

		remoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sbasync_remote_errors_total",
			Help: "Remote store failures by error code",
		}, []string{"code"}),
	}
}
