// Package metrics provides Prometheus metrics for the doctree storage layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctree_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctree_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctree_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbAcquireTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doctree_db_acquire_timeouts_total",
			Help: "Connection acquisitions that hit the pool timeout",
		},
	)

	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctree_transactions_total",
			Help: "Finished transactions by outcome",
		},
		[]string{"outcome"},
	)

	// VFS metrics
	vfsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctree_vfs_operations_total",
			Help: "VFS operations by backing, operation and status",
		},
		[]string{"backing", "operation", "status"},
	)

	renameCascadeRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctree_rename_cascade_rows",
			Help:    "Descendant rows rewritten by a directory rename",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Reorder metrics
	reordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctree_reorders_total",
			Help: "Reorder requests by outcome",
		},
		[]string{"outcome"},
	)

	// Search metrics
	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctree_search_duration_seconds",
			Help:    "Search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backing", "mode"},
	)

	searchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctree_search_results",
			Help:    "Number of rows returned per search",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnections sets the open and in-use database connection gauges.
func SetDBConnections(open, inUse int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
}

// RecordAcquireTimeout records a pool acquisition that expired.
func RecordAcquireTimeout() {
	dbAcquireTimeoutsTotal.Inc()
}

// RecordTransaction records a finished transaction ("commit", "rollback", "error").
func RecordTransaction(outcome string) {
	transactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordVFSOperation records a VFS call.
func RecordVFSOperation(backing, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	vfsOperationsTotal.WithLabelValues(backing, operation, status).Inc()
}

// RecordRenameCascade records how many descendants a directory rename touched.
func RecordRenameCascade(rows int64) {
	renameCascadeRows.Observe(float64(rows))
}

// RecordReorder records a reorder outcome ("moved", "boundary", "error").
func RecordReorder(outcome string) {
	reordersTotal.WithLabelValues(outcome).Inc()
}

// RecordSearch records a search call.
func RecordSearch(backing, mode string, duration time.Duration, rows int) {
	searchDuration.WithLabelValues(backing, mode).Observe(duration.Seconds())
	searchResults.Observe(float64(rows))
}
