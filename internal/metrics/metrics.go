// Package metrics holds reef's Prometheus instruments. reef is a short-lived
// CLI, so metrics are exported with WriteTextfile for a node_exporter
// textfile collector rather than served over HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry all reef instruments live in.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	metricSessions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reef",
		Name:      "sessions_total",
		Help:      "SSH sessions opened, by primitive and result.",
	}, []string{"kind", "result"})
	metricSessionSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reef",
		Name:      "session_seconds",
		Help:      "Wall time of SSH sessions from dial to close.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"kind"})
	metricRestarts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reef",
		Name:      "restarts_total",
		Help:      "Restart attempts by the tier that was issued and whether it succeeded.",
	}, []string{"method", "success"})
	metricMigrations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reef",
		Name:      "migrations_total",
		Help:      "Agent migrations by outcome.",
	}, []string{"success"})
	metricFleetUnits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reef",
		Name:      "fleet_units_total",
		Help:      "Fleet fan-out units by outcome.",
	}, []string{"result"})
)

// Session results.
const (
	ResultOK        = "ok"
	ResultConnError = "connection_error"
	ResultXferError = "transfer_error"
	ResultClosed    = "closed"
)

// ObserveSession records one primitive call.
func ObserveSession(kind, result string, elapsed time.Duration) {
	metricSessions.WithLabelValues(kind, result).Inc()
	metricSessionSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordRestart records one restart orchestration.
func RecordRestart(method string, success bool) {
	metricRestarts.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}

// RecordMigration records one migration.
func RecordMigration(success bool) {
	metricMigrations.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordFleetUnit records one settled fan-out unit.
func RecordFleetUnit(failed bool) {
	result := ResultOK
	if failed {
		result = "error"
	}
	metricFleetUnits.WithLabelValues(result).Inc()
}

// WriteTextfile writes every reef metric to path in the Prometheus text
// format, atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
