// Package bitstream provides MSB-first bit access to coded video syntax,
// exp-Golomb decoding and emulation-prevention handling.
package bitstream

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfData is returned when a read runs past the available bytes.
	ErrEndOfData = errors.New("end of data reached")
	// ErrInvalidGolomb is returned for exp-Golomb codes that cannot be represented.
	ErrInvalidGolomb = errors.New("invalid exponential Golomb code")
)

// BitReader provides bit-level reading for header parsing
type BitReader struct {
	data    []byte
	bytePos int
	bitPos  int

	// overrun records that a read was attempted past the end of data.
	overrun bool
}

// NewBitReader creates a new bit reader
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// ReadBit reads a single bit
func (br *BitReader) ReadBit() (uint8, error) {
	if br.bytePos >= len(br.data) {
		br.overrun = true
		return 0, ErrEndOfData
	}

	bit := (br.data[br.bytePos] >> (7 - br.bitPos)) & 1
	br.bitPos++

	if br.bitPos >= 8 {
		br.bitPos = 0
		br.bytePos++
	}

	return bit, nil
}

// ReadFlag reads a single bit as a boolean
func (br *BitReader) ReadFlag() (bool, error) {
	bit, err := br.ReadBit()
	return bit == 1, err
}

// ReadBits reads up to 32 bits
func (br *BitReader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, fmt.Errorf("invalid number of bits to read: %d (must be 0-32)", n)
	}

	if n == 0 {
		return 0, nil
	}

	if n > br.BitsRemaining() {
		br.overrun = true
		return 0, fmt.Errorf("insufficient bits: requested %d, have %d: %w", n, br.BitsRemaining(), ErrEndOfData)
	}

	var result uint32
	for i := 0; i < n; i++ {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		result = (result << 1) | uint32(bit)
	}
	return result, nil
}

// PeekBits returns the next n bits without consuming them
func (br *BitReader) PeekBits(n int) (uint32, error) {
	pos := br.BitPosition()
	overrun := br.overrun
	v, err := br.ReadBits(n)
	br.SeekToBit(pos)
	br.overrun = overrun
	return v, err
}

// SkipBits advances the cursor by n bits
func (br *BitReader) SkipBits(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid skip: %d", n)
	}
	if n > br.BitsRemaining() {
		br.overrun = true
		return ErrEndOfData
	}
	br.SeekToBit(br.BitPosition() + n)
	return nil
}

// ReadUE reads an unsigned exponential Golomb coded value
func (br *BitReader) ReadUE() (uint32, error) {
	leadingZeros := 0

	for {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, fmt.Errorf("failed to read bit while counting zeros: %w", err)
		}
		if bit == 1 {
			break
		}
		leadingZeros++
		if leadingZeros > 31 {
			return 0, fmt.Errorf("too many leading zeros (%d): %w", leadingZeros, ErrInvalidGolomb)
		}
	}

	if leadingZeros == 0 {
		return 0, nil
	}

	value, err := br.ReadBits(leadingZeros)
	if err != nil {
		return 0, fmt.Errorf("failed to read %d value bits: %w", leadingZeros, err)
	}

	// 2^leadingZeros - 1 + value
	return (uint32(1) << leadingZeros) - 1 + value, nil
}

// ReadSE reads a signed exponential Golomb coded value
func (br *BitReader) ReadSE() (int32, error) {
	ue, err := br.ReadUE()
	if err != nil {
		return 0, err
	}

	if ue == 0 {
		return 0, nil
	}

	// ue=1 => 1, ue=2 => -1, ue=3 => 2, ue=4 => -2, ...
	if ue%2 == 1 {
		return int32((ue + 1) / 2), nil
	}
	return -int32(ue / 2), nil
}

// ReadUEMax reads an unsigned exp-Golomb value and rejects values above max
func (br *BitReader) ReadUEMax(max uint32, name string) (uint32, error) {
	v, err := br.ReadUE()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if v > max {
		return 0, fmt.Errorf("%s out of range: %d > %d", name, v, max)
	}
	return v, nil
}

// BitPosition returns the absolute bit offset from the start
func (br *BitReader) BitPosition() int {
	return br.bytePos*8 + br.bitPos
}

// SeekToBit seeks to a specific bit position
func (br *BitReader) SeekToBit(bitPos int) {
	br.bytePos = bitPos / 8
	br.bitPos = bitPos % 8
}

// BitsRemaining returns the number of unread bits
func (br *BitReader) BitsRemaining() int {
	remaining := (len(br.data)-br.bytePos)*8 - br.bitPos
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasMoreBits returns true if there are more bits to read
func (br *BitReader) HasMoreBits() bool {
	return br.bytePos < len(br.data)
}

// ByteAligned reports whether the cursor sits on a byte boundary
func (br *BitReader) ByteAligned() bool {
	return br.bitPos == 0
}

// AlignToByte skips to the next byte boundary
func (br *BitReader) AlignToByte() {
	if br.bitPos != 0 {
		br.bitPos = 0
		br.bytePos++
	}
}

// Overrun reports whether any read ran past the end of data.
func (br *BitReader) Overrun() bool {
	return br.overrun
}

// MoreRBSPData implements more_rbsp_data(): true while payload bits remain
// ahead of the rbsp_stop_one_bit.
func (br *BitReader) MoreRBSPData() bool {
	last := len(br.data) - 1
	for last >= 0 && br.data[last] == 0 {
		last--
	}
	if last < 0 {
		return false
	}
	b := br.data[last]
	stop := 7
	for stop > 0 && b&(1<<(7-stop)) == 0 {
		stop--
	}
	stopPos := last*8 + stop
	return br.BitPosition() < stopPos
}
