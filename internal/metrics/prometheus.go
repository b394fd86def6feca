package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	taskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_task_runs_total",
			Help: "Total number of scheduled task runs by outcome.",
		},
		[]string{"task", "status"},
	)
	taskRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_sync_task_run_duration_seconds",
			Help:    "Histogram of scheduled task run durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task"},
	)
	sourceFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_source_fetch_total",
			Help: "Total number of source catalog requests by outcome.",
		},
		[]string{"status"},
	)
	productsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_products_total",
			Help: "Products handled by the upsert loader by operation.",
		},
		[]string{"op"},
	)
	categoriesReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_categories_total",
			Help: "Category changes applied by the reconciler by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(taskRunsTotal)
	prometheus.MustRegister(taskRunDuration)
	prometheus.MustRegister(sourceFetchTotal)
	prometheus.MustRegister(productsUpsertedTotal)
	prometheus.MustRegister(categoriesReconciledTotal)
}

// RecordTaskRun records the outcome and duration of one task run.
func RecordTaskRun(task string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	taskRunsTotal.WithLabelValues(task, status).Inc()
	taskRunDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordFetch records one source request; ok is false for any failure.
func RecordFetch(ok bool) {
	if ok {
		sourceFetchTotal.WithLabelValues("ok").Inc()
		return
	}
	sourceFetchTotal.WithLabelValues("error").Inc()
}

// RecordUpserts adds the counts of one loader pass.
func RecordUpserts(created, updated, skipped int) {
	productsUpsertedTotal.WithLabelValues("created").Add(float64(created))
	productsUpsertedTotal.WithLabelValues("updated").Add(float64(updated))
	productsUpsertedTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordReconcile adds the counts of one reconciliation pass.
func RecordReconcile(created, updated, deleted int) {
	categoriesReconciledTotal.WithLabelValues("created").Add(float64(created))
	categoriesReconciledTotal.WithLabelValues("updated").Add(float64(updated))
	categoriesReconciledTotal.WithLabelValues("deleted").Add(float64(deleted))
}

// Handler returns the HTTP handler exporting Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
