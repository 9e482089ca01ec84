package timestamp

// Rational represents a rational number (numerator/denominator)
type Rational struct {
	Num int64
	Den int64
}

// NewRational creates a new rational number
func NewRational(num, den int64) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// IsZero reports whether the rational is unset or zero
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// Equal compares two rationals by value. An unset rational only equals
// another unset one.
func (r Rational) Equal(o Rational) bool {
	if r.IsZero() || o.IsZero() {
		return r.IsZero() == o.IsZero()
	}
	return r.Num*o.Den == o.Num*r.Den
}

// Common frame rates
var (
	FrameRate23_976 = Rational{Num: 24000, Den: 1001}
	FrameRate24     = Rational{Num: 24, Den: 1}
	FrameRate25     = Rational{Num: 25, Den: 1}
	FrameRate29_97  = Rational{Num: 30000, Den: 1001}
	FrameRate30     = Rational{Num: 30, Den: 1}
	FrameRate50     = Rational{Num: 50, Den: 1}
	FrameRate59_94  = Rational{Num: 60000, Den: 1001}
	FrameRate60     = Rational{Num: 60, Den: 1}

	// DefaultFrameRate is used when neither the stream nor its timestamps
	// identify a rate.
	DefaultFrameRate = FrameRate25
)

// StandardFrameRates lists the rates a timestamp-deduced rate snaps to
var StandardFrameRates = []Rational{
	FrameRate23_976, FrameRate24, FrameRate25, FrameRate29_97,
	FrameRate30, FrameRate50, FrameRate59_94, FrameRate60,
}

// FrameDuration returns the duration of one frame in microseconds.
func FrameDuration(rate Rational) int64 {
	if rate.IsZero() {
		rate = DefaultFrameRate
	}
	return divRound(1_000_000*rate.Den, rate.Num)
}
