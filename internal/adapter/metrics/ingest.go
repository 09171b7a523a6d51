package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ingestStates = []string{"stopped", "starting", "running", "degraded", "failed"}

// IngestMetrics holds Prometheus metrics for the per-stream ingestion supervisors.
type IngestMetrics struct {
	State            *prometheus.GaugeVec
	Restarts         *prometheus.CounterVec
	RestartBackoff   prometheus.Histogram
	Failures         *prometheus.CounterVec
	SegmentsProduced *prometheus.CounterVec
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "state",
			Help:      "Current supervisor state per stream (1 for the active state).",
		}, []string{"stream_id", "state"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "restarts_total",
			Help:      "Total number of scheduled transcoder restarts, by stream.",
		}, []string{"stream_id"}),
		RestartBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "restart_backoff_seconds",
			Help:      "Backoff applied before transcoder restarts.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of transcoder failures, by stream and reason.",
		}, []string{"stream_id", "reason"}),
		SegmentsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "segments_produced_total",
			Help:      "Total number of media segments written, by stream.",
		}, []string{"stream_id"}),
	}

	reg.MustRegister(m.State, m.Restarts, m.RestartBackoff, m.Failures, m.SegmentsProduced)
	return m
}

func (m *IngestMetrics) StateChanged(streamID, state string) {
	for _, s := range ingestStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(streamID, s).Set(v)
	}
}

func (m *IngestMetrics) RestartScheduled(streamID string, backoff time.Duration) {
	m.Restarts.WithLabelValues(streamID).Inc()
	m.RestartBackoff.Observe(backoff.Seconds())
}

func (m *IngestMetrics) Failure(streamID, reason string) {
	m.Failures.WithLabelValues(streamID, reason).Inc()
}

func (m *IngestMetrics) SegmentProduced(streamID string) {
	m.SegmentsProduced.WithLabelValues(streamID).Inc()
}

// Forget drops the per-stream series of a removed session.
func (m *IngestMetrics) Forget(streamID string) {
	m.State.DeletePartialMatch(prometheus.Labels{"stream_id": streamID})
	m.Restarts.DeleteLabelValues(streamID)
	m.Failures.DeletePartialMatch(prometheus.Labels{"stream_id": streamID})
	m.SegmentsProduced.DeleteLabelValues(streamID)
}
