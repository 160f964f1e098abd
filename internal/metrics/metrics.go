package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reading outcomes
const (
	OutcomeStored        = "stored"
	OutcomeDecodeFailed  = "decode_failed"
	OutcomeMalformed     = "malformed"
	OutcomeUnassociated  = "unassociated"
	OutcomeStoreReadErr  = "store_read_error"
	OutcomeStoreWriteErr = "store_write_error"
)

// Metrics holds the service collectors. A nil *Metrics is safe to use,
// every method is then a no-op.
type Metrics struct {
	gatherer      prometheus.Gatherer
	readingsTotal *prometheus.CounterVec
	statesTotal   *prometheus.CounterVec
	mirrorErrors  prometheus.Counter
	duration      prometheus.Histogram
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg interface {
	prometheus.Registerer
	prometheus.Gatherer
}) *Metrics {
	m := &Metrics{
		gatherer: reg,
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_readings_total",
			Help: "Sensor readings handled, by outcome.",
		}, []string{"outcome"}),
		statesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_machine_state_total",
			Help: "Stored readings by classified operating state.",
		}, []string{"machine_id", "state"}),
		mirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_mirror_errors_total",
			Help: "Failed writes to the time-series mirror.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usage_processing_duration_seconds",
			Help:    "Time spent processing one reading.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.readingsTotal, m.statesTotal, m.mirrorErrors, m.duration)
	return m
}

// ObserveOutcome counts a handled reading by outcome
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveState counts a stored reading by machine and operating state
func (m *Metrics) ObserveState(machineID, state string) {
	if m == nil {
		return
	}
	m.statesTotal.WithLabelValues(machineID, state).Inc()
}

// ObserveMirrorError counts a failed time-series write
func (m *Metrics) ObserveMirrorError() {
	if m == nil {
		return
	}
	m.mirrorErrors.Inc()
}

// ObserveDuration records the time elapsed since start
func (m *Metrics) ObserveDuration(start time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
