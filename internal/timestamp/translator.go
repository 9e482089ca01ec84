// Package timestamp converts 33-bit 90 kHz native stream time into a
// continuous 64-bit microsecond timeline.
package timestamp

import "math"

const (
	// NativeBits is the width of PES presentation and decode timestamps.
	NativeBits = 33
	// NativePeriod is the native clock wrap period in ticks.
	NativePeriod int64 = 1 << NativeBits
	nativeMask         = uint64(NativePeriod - 1)

	// NativeClock is the native tick rate.
	NativeClock = 90000
)

const (
	// InvalidNative marks an absent native time.
	InvalidNative = ^uint64(0)
	// InvalidTime marks an absent normalized time.
	InvalidTime int64 = math.MinInt64
)

// IsValid reports whether a normalized time is present.
func IsValid(t int64) bool {
	return t != InvalidTime
}

// WrapDetector decides whether two native samples straddle a wrap.
type WrapDetector struct {
	period int64
	half   int64
}

// NewWrapDetector creates a detector for a clock of the given period.
func NewWrapDetector(period int64) WrapDetector {
	return WrapDetector{period: period, half: period / 2}
}

// Forward reports a wrap from the top of the range back to zero.
func (d WrapDetector) Forward(current, last int64) bool {
	return current < last && last-current > d.half
}

// Backward reports a step from just after zero back to the top of the range.
func (d WrapDetector) Backward(current, last int64) bool {
	return current > last && current-last > d.half
}

// Translator keeps the rolling baseline used to extend native times.
// It is not safe for concurrent use; the owning parser serialises calls.
type Translator struct {
	detector WrapDetector
	baseline int64
	valid    bool
	wraps    int
}

// NewTranslator creates a translator with no baseline.
func NewTranslator() *Translator {
	return &Translator{detector: NewWrapDetector(NativePeriod)}
}

// Extend maps a 33-bit native value onto the extended native timeline.
func (t *Translator) Extend(native uint64) int64 {
	n := int64(native & nativeMask)

	if !t.valid {
		t.baseline = n
		t.valid = true
		return n
	}

	epoch := t.baseline - floorMod(t.baseline, NativePeriod)
	last := t.baseline - epoch
	extended := epoch + n

	switch {
	case t.detector.Forward(n, last):
		extended += NativePeriod
		t.wraps++
	case t.detector.Backward(n, last):
		extended -= NativePeriod
		t.wraps--
	}

	t.baseline = extended
	return extended
}

// NativeToNormalized converts a native time to microseconds, advancing the
// baseline. InvalidNative maps to InvalidTime.
func (t *Translator) NativeToNormalized(native uint64) int64 {
	if native == InvalidNative {
		return InvalidTime
	}
	return TicksToMicros(t.Extend(native))
}

// NormalizedToNative converts microseconds back to a 33-bit native time.
func (t *Translator) NormalizedToNative(normalized int64) uint64 {
	if normalized == InvalidTime {
		return InvalidNative
	}
	return uint64(floorMod(MicrosToTicks(normalized), NativePeriod))
}

// ApplyCorrectiveNativeTimeWrap moves the baseline forward one native
// period, for use when an external clock has observed a wrap this stream
// has not.
func (t *Translator) ApplyCorrectiveNativeTimeWrap() {
	t.baseline += NativePeriod
	t.wraps++
}

// Reset forgets the baseline.
func (t *Translator) Reset() {
	t.baseline = 0
	t.valid = false
	t.wraps = 0
}

// Wraps returns the net number of wraps applied since the last Reset.
func (t *Translator) Wraps() int {
	return t.wraps
}

// lastExtended returns the last extended native time and whether one is set.
func (t *Translator) lastExtended() (int64, bool) {
	return t.baseline, t.valid
}

// TicksToMicros converts 90 kHz ticks to microseconds, rounding to nearest.
func TicksToMicros(ticks int64) int64 {
	return divRound(ticks*100, 9)
}

// MicrosToTicks converts microseconds to 90 kHz ticks, rounding to nearest.
func MicrosToTicks(us int64) int64 {
	return divRound(us*9, 100)
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// divRound divides rounding half away from zero.
func divRound(a, b int64) int64 {
	if (a < 0) != (b < 0) {
		return (a - b/2) / b
	}
	return (a + b/2) / b
}
