package ingest

import "time"

// Observer receives supervisor lifecycle events. metrics.IngestMetrics implements it.
type Observer interface {
	StateChanged(streamID, state string)
	RestartScheduled(streamID string, backoff time.Duration)
	Failure(streamID, reason string)
	SegmentProduced(streamID string)
	Forget(streamID string)
}

type NopObserver struct{}

func (NopObserver) StateChanged(string, string)            {}
func (NopObserver) RestartScheduled(string, time.Duration) {}
func (NopObserver) Failure(string, string)                 {}
func (NopObserver) SegmentProduced(string)                 {}
func (NopObserver) Forget(string)                          {}
