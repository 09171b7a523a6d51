package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics tracks overlay snapshot subscribers per stream.
type WebSocketMetrics struct {
	ActiveConnections *prometheus.GaugeVec
	SnapshotsPushed   *prometheus.CounterVec
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "overlay_subscribers",
			Name:      "active",
			Help:      "Open overlay WebSocket subscriptions, by stream.",
		}, []string{"stream_id"}),
		SnapshotsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay_subscribers",
			Name:      "snapshots_pushed_total",
			Help:      "Overlay snapshots written to subscribers, by stream.",
		}, []string{"stream_id"}),
	}

	reg.MustRegister(m.ActiveConnections, m.SnapshotsPushed)
	return m
}

func (m *WebSocketMetrics) ConnectionOpened(streamID string) {
	m.ActiveConnections.WithLabelValues(streamID).Inc()
}

func (m *WebSocketMetrics) ConnectionClosed(streamID string) {
	m.ActiveConnections.WithLabelValues(streamID).Dec()
}

func (m *WebSocketMetrics) MessagePublished(streamID string) {
	m.SnapshotsPushed.WithLabelValues(streamID).Inc()
}
