package sqlstore

import "github.com/prometheus/client_golang/prometheus"

// Collectors for storage engine metrics.
var (
	syncInsertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permissions_sync_inserts_total",
		Help: "Cumulative number of node rows inserted by diff reconciliation.",
	})
	syncDeletesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permissions_sync_deletes_total",
		Help: "Cumulative number of node rows deleted by diff reconciliation.",
	})
	bulkRewriteRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permissions_bulk_rewrite_rows_total",
		Help: "Cumulative number of node rows affected by bulk rewrites.",
	})
	storageFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permissions_storage_failures_total",
		Help: "Cumulative number of storage operations failed by backend errors.",
	})
)

func init() {
	prometheus.MustRegister(
		syncInsertsTotal,
		syncDeletesTotal,
		bulkRewriteRowsTotal,
		storageFailuresTotal,
	)
}
