package observability

import (
	"context"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for session lifecycle events and writes.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// EventsTotal counts session events by type ("created", "deleted", "expired").
	EventsTotal *prometheus.CounterVec

	// SavesTotal counts repository writes by write path and outcome ("ok", "error").
	SavesTotal *prometheus.CounterVec

	// SaveDuration observes write latency by write path.
	SaveDuration *prometheus.HistogramVec
}

var (
	_ ports.EventPublisher = (*Metrics)(nil)
	_ ports.SaveObserver   = (*Metrics)(nil)
)

// NewMetrics creates and registers the metrics with the given Prometheus
// registerer. If reg is nil, metrics are created but not registered
// (useful for testing).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsession",
			Name:      "session_events_total",
			Help:      "Total number of session lifecycle events by type",
		}, []string{"type"}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsession",
			Name:      "session_saves_total",
			Help:      "Total number of session writes by write path and outcome",
		}, []string{"path", "outcome"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridsession",
			Name:      "session_save_duration_seconds",
			Help:      "Duration of session writes by write path",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"path"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsTotal,
			m.SavesTotal,
			m.SaveDuration,
		)
	}

	return m
}

// Publish counts e.
func (m *Metrics) Publish(_ context.Context, e *domain.SessionEvent) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(e.Type)).Inc()
}

// ObserveSave records one repository write.
func (m *Metrics) ObserveSave(path string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SavesTotal.WithLabelValues(path, outcome).Inc()
	m.SaveDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}
