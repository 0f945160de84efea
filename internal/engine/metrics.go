package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for how an operation was started.
const (
	modeBlocking    = "blocking"
	modeNonBlocking = "nonblocking"
)

var (
	operationsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_operations_started_total",
			Help: "Total number of operations started.",
		},
		[]string{"kind", "mode"},
	)

	operationsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_operations_finished_total",
			Help: "Total number of operations that reached a terminal state.",
		},
		[]string{"status"},
	)

	operationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_operations_rejected_total",
			Help: "Total number of start requests rejected before an operation was created.",
		},
		[]string{"reason"},
	)

	operationsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hourglass_operations_evicted_total",
			Help: "Total number of terminal operations evicted from the registry.",
		},
	)

	runningOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hourglass_running_operations",
			Help: "Number of operations currently waiting.",
		},
	)

	operationWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hourglass_operation_wait_seconds",
			Help:    "Time operations spent running before reaching a terminal state, in seconds.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
	)
)

func init() {
	prometheus.MustRegister(operationsStarted)
	prometheus.MustRegister(operationsFinished)
	prometheus.MustRegister(operationsRejected)
	prometheus.MustRegister(operationsEvicted)
	prometheus.MustRegister(runningOperations)
	prometheus.MustRegister(operationWait)
}
