package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryMetrics tracks the in-memory overlay registry.
type RegistryMetrics struct {
	SnapshotSize *prometheus.GaugeVec
	Loads        *prometheus.CounterVec
}

func NewRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	m := &RegistryMetrics{
		SnapshotSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "snapshot_overlays",
			Help:      "Number of overlays in the current snapshot, by stream.",
		}, []string{"stream_id"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "loads_total",
			Help:      "Total number of registry loads from the store, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.SnapshotSize, m.Loads)
	return m
}

func (m *RegistryMetrics) SnapshotSwapped(streamID string, overlays int) {
	m.SnapshotSize.WithLabelValues(streamID).Set(float64(overlays))
}

func (m *RegistryMetrics) Loaded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Loads.WithLabelValues(result).Inc()
}
