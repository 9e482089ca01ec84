package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementFramesParsed(t *testing.T) {
	initial := testutil.ToFloat64(framesParsedTotal.WithLabelValues("h264"))

	IncrementFramesParsed("h264")
	IncrementFramesParsed("h264")

	assert.Equal(t, initial+2, testutil.ToFloat64(framesParsedTotal.WithLabelValues("h264")))
}

func TestIncrementDiscarded_LabelsByErrorType(t *testing.T) {
	syntax := accessUnitsDiscardedTotal.WithLabelValues("mpeg2", "HEADER_SYNTAX")
	refs := accessUnitsDiscardedTotal.WithLabelValues("mpeg2", "INSUFFICIENT_REFERENCE_FRAMES")
	initialSyntax := testutil.ToFloat64(syntax)
	initialRefs := testutil.ToFloat64(refs)

	IncrementDiscarded("mpeg2", "HEADER_SYNTAX")

	assert.Equal(t, initialSyntax+1, testutil.ToFloat64(syntax))
	assert.Equal(t, initialRefs, testutil.ToFloat64(refs))
}

func TestCollatorCounters(t *testing.T) {
	units := accessUnitsCollatedTotal.WithLabelValues("avs")
	skipped := bytesSkippedTotal.WithLabelValues("avs")
	initialUnits := testutil.ToFloat64(units)
	initialSkipped := testutil.ToFloat64(skipped)

	IncrementAccessUnitsCollated("avs")
	AddBytesSkipped("avs", 7)

	assert.Equal(t, initialUnits+1, testutil.ToFloat64(units))
	assert.Equal(t, initialSkipped+7, testutil.ToFloat64(skipped))
}

func TestGauges(t *testing.T) {
	SetDeferredDisplayDepth("h264", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(deferredDisplayDepth.WithLabelValues("h264")))

	SetReferenceFrames("h264", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(referenceFrames.WithLabelValues("h264")))

	SetPoolInUse("coded_frame", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(poolInUse.WithLabelValues("coded_frame")))
}

func TestCounters(t *testing.T) {
	lost := testutil.ToFloat64(reverseCapabilityLostTotal.WithLabelValues("avs"))
	IncrementReverseCapabilityLost("avs")
	assert.Equal(t, lost+1, testutil.ToFloat64(reverseCapabilityLostTotal.WithLabelValues("avs")))

	exhausted := testutil.ToFloat64(poolExhaustedTotal.WithLabelValues("pps"))
	IncrementPoolExhausted("pps")
	assert.Equal(t, exhausted+1, testutil.ToFloat64(poolExhaustedTotal.WithLabelValues("pps")))

	params := testutil.ToFloat64(newStreamParametersTotal.WithLabelValues("h264"))
	IncrementNewStreamParameters("h264")
	assert.Equal(t, params+1, testutil.ToFloat64(newStreamParametersTotal.WithLabelValues("h264")))

	events := testutil.ToFloat64(eventsEmittedTotal.WithLabelValues("size_change", "log"))
	IncrementEventsEmitted("size_change", "log")
	assert.Equal(t, events+1, testutil.ToFloat64(eventsEmittedTotal.WithLabelValues("size_change", "log")))
}

func TestObserveParseDuration(t *testing.T) {
	durations := []time.Duration{10 * time.Microsecond, 200 * time.Microsecond, 3 * time.Millisecond}
	for _, d := range durations {
		ObserveParseDuration("h264", d)
	}

	histogram := parseDuration.WithLabelValues("h264").(prometheus.Histogram)

	var m dto.Metric
	require.NoError(t, histogram.Write(&m))
	assert.GreaterOrEqual(t, m.Histogram.GetSampleCount(), uint64(len(durations)))
}
