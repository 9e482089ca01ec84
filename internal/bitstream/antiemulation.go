package bitstream

import "errors"

// ErrFilterOverrun is returned by Verify when parsing consumed bytes the
// filter had not yet materialised while raw input was still available.
var ErrFilterOverrun = errors.New("anti-emulation buffer overrun")

// AntiEmulationFilter removes emulation-prevention bytes lazily. Syntax
// parsers call Ensure before a section with an upper bound on the bytes the
// section can consume, then Verify once the section has been read.
//
// The zero-run state survives between refills, so a 00 00 | 03 sequence
// split across two Ensure calls is still destuffed.
type AntiEmulationFilter struct {
	raw      []byte
	rawPos   int
	out      []byte
	zeroRun  int
	stripped int
	reader   *BitReader
}

// NewAntiEmulationFilter creates an empty filter
func NewAntiEmulationFilter() *AntiEmulationFilter {
	f := &AntiEmulationFilter{}
	f.reader = NewBitReader(nil)
	return f
}

// Load resets the filter onto a new raw payload.
func (f *AntiEmulationFilter) Load(raw []byte) {
	f.raw = raw
	f.rawPos = 0
	f.out = f.out[:0]
	f.zeroRun = 0
	f.stripped = 0
	f.reader.data = f.out
	f.reader.bytePos = 0
	f.reader.bitPos = 0
	f.reader.overrun = false
}

// Reader returns the bit reader positioned over the destuffed bytes.
func (f *AntiEmulationFilter) Reader() *BitReader {
	return f.reader
}

// Ensure materialises destuffed bytes until at least n bytes are available
// beyond the reader's current byte, or the raw input is exhausted.
func (f *AntiEmulationFilter) Ensure(n int) {
	target := f.reader.bytePos + n
	if f.reader.bitPos != 0 {
		target++
	}

	for len(f.out) < target && f.rawPos < len(f.raw) {
		b := f.raw[f.rawPos]
		f.rawPos++

		if f.zeroRun >= 2 && b == 0x03 {
			f.zeroRun = 0
			f.stripped++
			continue
		}
		if b == 0x00 {
			f.zeroRun++
		} else {
			f.zeroRun = 0
		}
		f.out = append(f.out, b)
	}

	f.reader.data = f.out
}

// EnsureAll destuffs the remainder of the raw payload.
func (f *AntiEmulationFilter) EnsureAll() {
	f.Ensure(len(f.raw))
}

// Verify reports whether the last section read past the materialised bytes.
// It returns ErrFilterOverrun when raw input remained (the caller under-sized
// its Ensure) and ErrEndOfData when the payload itself was too short.
func (f *AntiEmulationFilter) Verify() error {
	if !f.reader.overrun {
		return nil
	}
	if f.rawPos < len(f.raw) {
		return ErrFilterOverrun
	}
	return ErrEndOfData
}

// Stripped returns how many emulation-prevention bytes have been removed.
func (f *AntiEmulationFilter) Stripped() int {
	return f.stripped
}

// RawConsumed returns how many raw bytes have been examined.
func (f *AntiEmulationFilter) RawConsumed() int {
	return f.rawPos
}
