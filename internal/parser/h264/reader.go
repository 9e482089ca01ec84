package h264

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
)

// syntaxReader reads named syntax elements and keeps the first failure, so
// a header can be read straight through and checked once per section.
type syntaxReader struct {
	br  *bitstream.BitReader
	err error
}

func newSyntaxReader(br *bitstream.BitReader) *syntaxReader {
	return &syntaxReader{br: br}
}

func (r *syntaxReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
}

func (r *syntaxReader) u(n int, name string) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadBits(n)
	if err != nil {
		r.fail(name, err)
	}
	return v
}

func (r *syntaxReader) flag(name string) bool {
	return r.u(1, name) == 1
}

func (r *syntaxReader) ue(name string) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadUE()
	if err != nil {
		r.fail(name, err)
	}
	return v
}

// ueMax reads ue(v) and records a header syntax failure above max.
func (r *syntaxReader) ueMax(max uint32, name string) uint32 {
	v := r.ue(name)
	if r.err == nil && v > max {
		r.fail(name, fmt.Errorf("value %d exceeds %d", v, max))
		return 0
	}
	return v
}

func (r *syntaxReader) se(name string) int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadSE()
	if err != nil {
		r.fail(name, err)
	}
	return v
}

// Err returns the first failure as a header syntax error.
func (r *syntaxReader) Err(what string) error {
	if r.err == nil {
		return nil
	}
	return errors.WrapHeaderSyntaxError(r.err, what)
}

func errOutOfRange(v int64) error {
	return fmt.Errorf("value %d out of range", v)
}

// ceilLog2 returns Ceil(Log2(v)) for v >= 1.
func ceilLog2(v uint32) int {
	n := 0
	for (uint32(1) << n) < v {
		n++
	}
	return n
}
