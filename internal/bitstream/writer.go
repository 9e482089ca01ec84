package bitstream

// BitWriter provides bit-level writing for bitstream construction
type BitWriter struct {
	data    []byte
	bytePos int
	bitPos  int
}

// NewBitWriter creates a new bit writer
func NewBitWriter() *BitWriter {
	return &BitWriter{data: make([]byte, 0, 256)}
}

// WriteBit writes a single bit
func (bw *BitWriter) WriteBit(bit uint8) {
	for len(bw.data) <= bw.bytePos {
		bw.data = append(bw.data, 0)
	}

	if bit&1 == 1 {
		bw.data[bw.bytePos] |= 1 << (7 - bw.bitPos)
	}

	bw.bitPos++
	if bw.bitPos >= 8 {
		bw.bitPos = 0
		bw.bytePos++
	}
}

// WriteFlag writes a boolean as a single bit
func (bw *BitWriter) WriteFlag(v bool) {
	if v {
		bw.WriteBit(1)
	} else {
		bw.WriteBit(0)
	}
}

// WriteBits writes the low n bits of value, MSB first
func (bw *BitWriter) WriteBits(value uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bw.WriteBit(uint8((value >> i) & 1))
	}
}

// WriteUE writes an unsigned exponential Golomb coded value
func (bw *BitWriter) WriteUE(value uint32) {
	if value == 0 {
		bw.WriteBit(1)
		return
	}

	leadingZeros := 0
	for temp := uint64(value) + 1; temp > 1; temp >>= 1 {
		leadingZeros++
	}

	for i := 0; i < leadingZeros; i++ {
		bw.WriteBit(0)
	}
	bw.WriteBits(value+1, leadingZeros+1)
}

// WriteSE writes a signed exponential Golomb coded value
func (bw *BitWriter) WriteSE(value int32) {
	if value <= 0 {
		bw.WriteUE(uint32(-value * 2))
	} else {
		bw.WriteUE(uint32(value*2 - 1))
	}
}

// WriteTrailingBits writes rbsp_stop_one_bit and zero alignment bits.
func (bw *BitWriter) WriteTrailingBits() {
	bw.WriteBit(1)
	for bw.bitPos != 0 {
		bw.WriteBit(0)
	}
}

// BitsWritten returns the number of bits written so far
func (bw *BitWriter) BitsWritten() int {
	return bw.bytePos*8 + bw.bitPos
}

// Bytes returns the written bytes, zero padded to a byte boundary
func (bw *BitWriter) Bytes() []byte {
	n := bw.bytePos
	if bw.bitPos > 0 {
		n++
	}
	for len(bw.data) < n {
		bw.data = append(bw.data, 0)
	}
	return bw.data[:n]
}
