package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Parser throughput
	framesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_frames_parsed_total",
		Help: "Total access units committed for decode",
	}, []string{"codec"})

	accessUnitsDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_access_units_discarded_total",
		Help: "Total access units discarded, by error type",
	}, []string{"codec", "error_type"})

	newStreamParametersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_new_stream_parameters_total",
		Help: "Total sequence-level parameter changes",
	}, []string{"codec"})

	parseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frameparser_parse_duration_seconds",
		Help:    "Time spent parsing one access unit",
		Buckets: prometheus.ExponentialBuckets(0.000005, 2, 14), // 5us to ~40ms
	}, []string{"codec"})

	// Collation
	accessUnitsCollatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_access_units_collated_total",
		Help: "Total access units split from the elementary stream",
	}, []string{"codec"})

	bytesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_collator_bytes_skipped_total",
		Help: "Bytes dropped before the first start code or at a discontinuity",
	}, []string{"codec"})

	// Ordering state
	deferredDisplayDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frameparser_deferred_display_depth",
		Help: "Pictures waiting for display order resolution",
	}, []string{"codec"})

	referenceFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frameparser_reference_frames",
		Help: "Pictures currently marked used for reference",
	}, []string{"codec"})

	// Reverse play
	reverseCapabilityLostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_reverse_capability_lost_total",
		Help: "Times smooth reverse play ran out of resources",
	}, []string{"codec"})

	// Buffer pools
	poolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frameparser_pool_buffers_in_use",
		Help: "Buffers currently handed out by a pool",
	}, []string{"pool"})

	poolExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_pool_exhausted_total",
		Help: "Allocation attempts that found the pool empty",
	}, []string{"pool"})

	// Events
	eventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameparser_events_emitted_total",
		Help: "Events emitted to sinks",
	}, []string{"event_type", "sink"})
)

// IncrementFramesParsed counts a committed access unit
func IncrementFramesParsed(codec string) {
	framesParsedTotal.WithLabelValues(codec).Inc()
}

// IncrementDiscarded counts a discarded access unit
func IncrementDiscarded(codec, errorType string) {
	accessUnitsDiscardedTotal.WithLabelValues(codec, errorType).Inc()
}

// IncrementNewStreamParameters counts a sequence parameter change
func IncrementNewStreamParameters(codec string) {
	newStreamParametersTotal.WithLabelValues(codec).Inc()
}

// ObserveParseDuration records the time spent inside one Input call
func ObserveParseDuration(codec string, d time.Duration) {
	parseDuration.WithLabelValues(codec).Observe(d.Seconds())
}

// IncrementAccessUnitsCollated counts an access unit handed to the parser
func IncrementAccessUnitsCollated(codec string) {
	accessUnitsCollatedTotal.WithLabelValues(codec).Inc()
}

// AddBytesSkipped counts stream bytes the collator threw away
func AddBytesSkipped(codec string, n int) {
	bytesSkippedTotal.WithLabelValues(codec).Add(float64(n))
}

// SetDeferredDisplayDepth publishes the deferred queue length
func SetDeferredDisplayDepth(codec string, depth int) {
	deferredDisplayDepth.WithLabelValues(codec).Set(float64(depth))
}

// SetReferenceFrames publishes the number of reference pictures held
func SetReferenceFrames(codec string, count int) {
	referenceFrames.WithLabelValues(codec).Set(float64(count))
}

// IncrementReverseCapabilityLost counts a reverse play budget overrun
func IncrementReverseCapabilityLost(codec string) {
	reverseCapabilityLostTotal.WithLabelValues(codec).Inc()
}

// SetPoolInUse publishes how many buffers a pool has handed out
func SetPoolInUse(pool string, n int) {
	poolInUse.WithLabelValues(pool).Set(float64(n))
}

// IncrementPoolExhausted counts a failed pool allocation
func IncrementPoolExhausted(pool string) {
	poolExhaustedTotal.WithLabelValues(pool).Inc()
}

// IncrementEventsEmitted counts an event delivered to a sink
func IncrementEventsEmitted(eventType, sink string) {
	eventsEmittedTotal.WithLabelValues(eventType, sink).Inc()
}
