package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the modules feature.
// Tracks activation outcomes and critical path durations.
type Metrics struct {
	ModulesActivated   prometheus.Counter
	ModulesDeactivated prometheus.Counter
	ToggleRejections   *prometheus.CounterVec
	ToggleConflicts    prometheus.Counter
	ToggleDuration     prometheus.Histogram
	ListDuration       prometheus.Histogram
}

// New creates a new Metrics instance with all modules feature metrics registered.
func New() *Metrics {
	return &Metrics{
		ModulesActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orthoplus_modules_activated_total",
			Help: "Total number of module activations applied",
		}),
		ModulesDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orthoplus_modules_deactivated_total",
			Help: "Total number of module deactivations applied",
		}),
		ToggleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orthoplus_module_toggle_rejections_total",
			Help: "Total number of refused module state changes by reason",
		}, []string{"reason"}),
		ToggleConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orthoplus_module_toggle_conflicts_total",
			Help: "Total number of toggles that lost a serialization conflict",
		}),
		ToggleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orthoplus_module_toggle_duration_seconds",
			Help:    "Duration of module toggle operations (settings critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ListDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orthoplus_module_list_duration_seconds",
			Help:    "Duration of module listing operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementActivated records an applied activation.
func (m *Metrics) IncrementActivated() {
	m.ModulesActivated.Inc()
}

// IncrementDeactivated records an applied deactivation.
func (m *Metrics) IncrementDeactivated() {
	m.ModulesDeactivated.Inc()
}

// IncrementRejection records a refused state change.
func (m *Metrics) IncrementRejection(reason string) {
	m.ToggleRejections.WithLabelValues(reason).Inc()
}

// IncrementConflict records a lost serialization conflict.
func (m *Metrics) IncrementConflict() {
	m.ToggleConflicts.Inc()
}

// ObserveToggle records the duration of a toggle operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveToggle(start time.Time) {
	m.ToggleDuration.Observe(time.Since(start).Seconds())
}

// ObserveList records the duration of a listing operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveList(start time.Time) {
	m.ListDuration.Observe(time.Since(start).Seconds())
}
