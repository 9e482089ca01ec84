package timestamp

// RateEstimator deduces a frame rate from the spacing of presentation
// times. Deltas are accumulated per display step and the average is
// snapped to the nearest standard rate.
type RateEstimator struct {
	lastTime  int64
	lastIndex int64
	sum       int64
	samples   int
	window    int
}

// NewRateEstimator averages over window intervals before reporting.
func NewRateEstimator(window int) *RateEstimator {
	if window < 1 {
		window = 1
	}
	return &RateEstimator{lastTime: InvalidTime, window: window}
}

// Observe records a display index and its normalized presentation time.
func (e *RateEstimator) Observe(displayIndex, pts int64) {
	if !IsValid(pts) {
		return
	}
	if IsValid(e.lastTime) && displayIndex > e.lastIndex && pts > e.lastTime {
		steps := displayIndex - e.lastIndex
		e.sum += (pts - e.lastTime) / steps
		e.samples++
	}
	e.lastTime = pts
	e.lastIndex = displayIndex
}

// Rate returns the deduced rate once enough intervals have been seen.
func (e *RateEstimator) Rate() (Rational, bool) {
	if e.samples < e.window {
		return Rational{}, false
	}
	avg := e.sum / int64(e.samples)
	if avg <= 0 {
		return Rational{}, false
	}

	best := StandardFrameRates[0]
	bestDiff := int64(-1)
	for _, r := range StandardFrameRates {
		d := FrameDuration(r) - avg
		if d < 0 {
			d = -d
		}
		if bestDiff < 0 || d < bestDiff {
			best, bestDiff = r, d
		}
	}

	// Reject averages far from any standard rate.
	if bestDiff*20 > avg {
		return Rational{}, false
	}
	return best, true
}

// Reset discards accumulated samples.
func (e *RateEstimator) Reset() {
	*e = RateEstimator{lastTime: InvalidTime, window: e.window}
}
