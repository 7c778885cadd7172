package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no alarm_id/user_id labels)

var (
	// FramesDecodedTotal counts frames successfully decoded from the source
	FramesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_frames_decoded_total",
			Help: "Total frames decoded from the camera stream",
		},
	)

	// FramesSampledTotal counts frames handed to the detector
	FramesSampledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_frames_sampled_total",
			Help: "Total frames passed to the detector",
		},
	)

	// DecodeDesyncTotal counts discarded stream segments
	DecodeDesyncTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_decode_desync_total",
			Help: "Total stream segments discarded due to marker desync or decode failure",
		},
	)

	// SourceReconnectsTotal counts reconnect attempts to the camera stream
	SourceReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_source_reconnects_total",
			Help: "Total reconnect attempts to the frame source",
		},
	)

	// SourceUp is 1 while the frame source is connected
	SourceUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firewatch_source_up",
			Help: "Frame source connection status (1=up, 0=down)",
		},
	)

	// DetectionsTotal counts candidates produced by the detector, by outcome
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_detections_total",
			Help: "Total detections by outcome (queued, dropped)",
		},
		[]string{"outcome"},
	)

	// IngestTotal counts ingestion attempts by result
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_ingest_total",
			Help: "Total alarm ingestions by result",
		},
		[]string{"result"},
	)

	// IngestLatency tracks evidence write plus insert latency
	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firewatch_ingest_latency_ms",
			Help:    "Alarm ingestion latency in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// AlarmTransitionsTotal counts lifecycle transitions
	AlarmTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_alarm_transitions_total",
			Help: "Total alarm lifecycle transitions by action",
		},
		[]string{"action"},
	)

	// EventsDroppedTotal counts events dropped on full subscriber buffers
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_events_dropped_total",
			Help: "Total events dropped per subscriber",
		},
		[]string{"subscriber"},
	)

	// EvidenceCacheTotal counts evidence reads by cache result
	EvidenceCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_evidence_cache_total",
			Help: "Evidence reads by cache result (hit, miss)",
		},
		[]string{"result"},
	)
)

// Helper functions for metrics recording

func RecordDetection(queued bool) {
	if queued {
		DetectionsTotal.WithLabelValues("queued").Inc()
	} else {
		DetectionsTotal.WithLabelValues("dropped").Inc()
	}
}

func RecordIngest(result string, latencyMs float64) {
	IngestTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		IngestLatency.Observe(latencyMs)
	}
}

func RecordTransition(action string) {
	AlarmTransitionsTotal.WithLabelValues(action).Inc()
}

func RecordEventDrop(subscriber string) {
	EventsDroppedTotal.WithLabelValues(subscriber).Inc()
}

func SetSourceUp(up bool) {
	if up {
		SourceUp.Set(1)
	} else {
		SourceUp.Set(0)
	}
}
