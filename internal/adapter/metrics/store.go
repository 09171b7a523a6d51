package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for the PostgreSQL store and the
// circuit breakers in front of PostgreSQL and Redis.
type StoreMetrics struct {
	QueryDuration     *prometheus.HistogramVec
	QueryErrors       *prometheus.CounterVec
	UnavailableTotal  prometheus.Counter
	BreakerState      *prometheus.GaugeVec
	BreakerTransition *prometheus.CounterVec
}

func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds, by statement type.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Total number of failed database queries, by statement type.",
		}, []string{"operation"}),
		UnavailableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "unavailable_total",
			Help:      "Total number of store calls rejected or failed for connectivity reasons.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by component (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
		BreakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state changes, by component and new state.",
		}, []string{"component", "state"}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors, m.UnavailableTotal, m.BreakerState, m.BreakerTransition)
	return m
}

func (m *StoreMetrics) ObserveQuery(operation string, seconds float64, failed bool) {
	m.QueryDuration.WithLabelValues(operation).Observe(seconds)
	if failed {
		m.QueryErrors.WithLabelValues(operation).Inc()
	}
}

func (m *StoreMetrics) StoreUnavailable() {
	m.UnavailableTotal.Inc()
}

// BreakerStateChanged records the postgres breaker state.
func (m *StoreMetrics) BreakerStateChanged(state string) {
	m.RecordBreakerState("postgres", state)
}

// RecordBreakerState accepts the state names of both gobreaker and failsafe-go.
func (m *StoreMetrics) RecordBreakerState(component, state string) {
	m.BreakerTransition.WithLabelValues(component, state).Inc()
	m.BreakerState.WithLabelValues(component).Set(breakerStateValue(state))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed", "Closed":
		return 0
	case "half-open", "HalfOpen", "half_open":
		return 1
	case "open", "Open":
		return 2
	default:
		return -1
	}
}
