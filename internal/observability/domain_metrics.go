package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetwise_uploads_total",
			Help: "Total number of upload pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	uploadSheetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetwise_upload_sheets_total",
			Help: "Total number of sheets normalized across uploads.",
		},
	)
	normalizeWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetwise_normalize_warnings_total",
			Help: "Total number of normalization warnings by code.",
		},
		[]string{"code"},
	)
	programRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetwise_program_rejections_total",
			Help: "Total number of candidate programs refused by the validator.",
		},
		[]string{"mode"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetwise_executions_total",
			Help: "Total number of program executions by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)
	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetwise_execution_duration_seconds",
			Help:    "Program execution latency by engine.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90},
		},
		[]string{"engine"},
	)
)

func init() {
	prometheus.MustRegister(
		uploadsTotal,
		uploadSheetsTotal,
		normalizeWarningsTotal,
		programRejectionsTotal,
		executionsTotal,
		executionDurationSeconds,
	)
}

func ObserveUpload(outcome string, sheets int) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if sheets > 0 {
		uploadSheetsTotal.Add(float64(sheets))
	}
}

func IncrementNormalizeWarning(code string) {
	normalizeWarningsTotal.WithLabelValues(code).Inc()
}

func IncrementProgramRejection(mode string) {
	programRejectionsTotal.WithLabelValues(mode).Inc()
}

func ObserveExecution(engine, outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(engine, outcome).Inc()
	executionDurationSeconds.WithLabelValues(engine).Observe(elapsed.Seconds())
}
