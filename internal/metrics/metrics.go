// Package metrics registers the process-wide Prometheus collectors. Exposed
// on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logscope_logs_inserted_total",
		Help: "Genuinely new log rows committed to the store.",
	})

	LogsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logscope_logs_duplicate_total",
		Help: "Log inserts skipped as idempotent no-ops.",
	})

	SyncBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logscope_sync_batches_total",
		Help: "Historical backfill batches fully committed.",
	})

	RPCRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logscope_rpc_retries_total",
		Help: "Chain RPC calls that failed and were retried.",
	})

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logscope_active_subscribers",
		Help: "Live log subscribers currently registered on the hub.",
	})
)
