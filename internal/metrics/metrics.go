// Package metrics exposes Prometheus instrumentation for refresh runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamvault",
		Name:      "refresh_duration_seconds",
		Help:      "Wall-clock duration of account refreshes.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "refresh_total",
		Help:      "Refresh outcomes by final status.",
	}, []string{"status"})

	StreamsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "streams_created_total",
		Help:      "Stream records created by ingestion.",
	})

	StreamsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "streams_updated_total",
		Help:      "Stream records whose content changed on ingestion.",
	})

	StreamsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "streams_deleted_total",
		Help:      "Stream records removed by the staleness sweep.",
	})

	BatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "batches_failed_total",
		Help:      "Ingest batches whose storage operation failed.",
	})

	ChannelsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamvault",
		Name:      "channels_reconciled_total",
		Help:      "Auto-channel reconciliation actions by kind.",
	}, []string{"action"})
)
