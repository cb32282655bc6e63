package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exitctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exitctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	circuitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exitctl",
			Subsystem: "scan",
			Name:      "circuits_total",
			Help:      "Circuit outcomes observed during the scan.",
		},
		[]string{"outcome"},
	)
	streamsFinished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exitctl",
			Subsystem: "scan",
			Name:      "streams_finished_total",
			Help:      "Streams that reached a terminal state.",
		},
	)
	attachCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exitctl",
			Subsystem: "scan",
			Name:      "attach_commands_total",
			Help:      "Attach commands issued to the daemon.",
		},
		[]string{"accepted"},
	)
	probeWorkers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exitctl",
			Subsystem: "probe",
			Name:      "workers_total",
			Help:      "Probe worker launches.",
		},
		[]string{"started"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration,
			circuitOutcomes, streamsFinished, attachCommands, probeWorkers)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCircuit(outcome string) {
	RegisterMetrics()
	circuitOutcomes.WithLabelValues(outcome).Inc()
}

func RecordStreamFinished() {
	RegisterMetrics()
	streamsFinished.Inc()
}

func RecordAttach(accepted bool) {
	RegisterMetrics()
	attachCommands.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

func RecordWorker(started bool) {
	RegisterMetrics()
	probeWorkers.WithLabelValues(strconv.FormatBool(started)).Inc()
}
