// Package metrics holds the Prometheus collectors of the import pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch results recorded on BatchesProcessed.
const (
	ResultOK        = "ok"
	ResultDuplicate = "duplicate"
	ResultRetry     = "retry"
	ResultDLQ       = "dlq"
	ResultPoison    = "poison"
)

var (
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imports_batches_processed_total",
			Help: "Batch deliveries handled by the consumer, by result",
		},
		[]string{"result"},
	)

	BatchesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imports_batches_published_total",
		Help: "Batches published to the work queue by the producer",
	})

	RowsOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imports_rows_ok_total",
		Help: "Rows persisted successfully",
	})

	RowsKO = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imports_rows_ko_total",
		Help: "Rows that failed to persist",
	})

	RowsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imports_rows_rejected_total",
		Help: "Rows rejected by producer-side validation",
	})

	LockDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imports_lock_degraded_total",
		Help: "Critical sections run without the per-job lock",
	})
)

// RecordBatch counts one consumer outcome.
func RecordBatch(result string) {
	BatchesProcessed.WithLabelValues(result).Inc()
}

// RecordRows adds persisted and failed row counts.
func RecordRows(ok, ko int) {
	if ok > 0 {
		RowsOK.Add(float64(ok))
	}
	if ko > 0 {
		RowsKO.Add(float64(ko))
	}
}
