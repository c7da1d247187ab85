package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchkit_batch_loads_total",
			Help: "Total number of batch materializations by datasource, batch kind and outcome.",
		},
		[]string{"datasource", "kind", "outcome"},
	)
	batchLoadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchkit_batch_load_duration_seconds",
			Help:    "Time spent materializing a batch into a dataset.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"datasource", "kind"},
	)
	batchRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchkit_batch_rows_total",
			Help: "Total number of rows loaded into datasets.",
		},
		[]string{"datasource", "kind"},
	)
	generatorYieldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchkit_generator_yields_total",
			Help: "Total number of batch kwargs yielded by generators.",
		},
		[]string{"generator_type", "outcome"},
	)
	batchExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchkit_batch_exports_total",
			Help: "Total number of batches exported to the object store by datasource and outcome.",
		},
		[]string{"datasource", "outcome"},
	)
	batchExportBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchkit_batch_export_bytes_total",
			Help: "Total number of parquet bytes written by batch exports.",
		},
		[]string{"datasource"},
	)
)

func init() {
	prometheus.MustRegister(
		batchLoadsTotal,
		batchLoadDurationSeconds,
		batchRowsTotal,
		generatorYieldsTotal,
		batchExportsTotal,
		batchExportBytesTotal,
	)
}

// ObserveBatchLoad records one batch materialization. rows is ignored on error.
func ObserveBatchLoad(datasource, kind string, rows int, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	batchLoadsTotal.WithLabelValues(datasource, kind, outcome).Inc()
	batchLoadDurationSeconds.WithLabelValues(datasource, kind).Observe(elapsed.Seconds())
	if err == nil && rows > 0 {
		batchRowsTotal.WithLabelValues(datasource, kind).Add(float64(rows))
	}
}

func ObserveGeneratorYield(generatorType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	generatorYieldsTotal.WithLabelValues(generatorType, outcome).Inc()
}

// ObserveBatchExport records one export. size is ignored on error.
func ObserveBatchExport(datasource string, size int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	batchExportsTotal.WithLabelValues(datasource, outcome).Inc()
	if err == nil && size > 0 {
		batchExportBytesTotal.WithLabelValues(datasource).Add(float64(size))
	}
}
