package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitReader_ReadBits(t *testing.T) {
	br := NewBitReader([]byte{0xA5, 0x0F})

	v, err := br.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA), v)

	v, err = br.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x50), v)

	assert.Equal(t, 12, br.BitPosition())
	assert.Equal(t, 4, br.BitsRemaining())

	_, err = br.ReadBits(5)
	assert.ErrorIs(t, err, ErrEndOfData)
	assert.True(t, br.Overrun())
}

func TestBitReader_ExpGolombRoundTrip(t *testing.T) {
	unsigned := []uint32{0, 1, 2, 3, 7, 8, 255, 1000, 65535, 1 << 20}
	signed := []int32{0, 1, -1, 2, -2, 100, -100, 32767, -32768}

	bw := NewBitWriter()
	for _, v := range unsigned {
		bw.WriteUE(v)
	}
	for _, v := range signed {
		bw.WriteSE(v)
	}
	bw.WriteTrailingBits()

	br := NewBitReader(bw.Bytes())
	for _, want := range unsigned {
		got, err := br.ReadUE()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, want := range signed {
		got, err := br.ReadSE()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.False(t, br.MoreRBSPData())
}

func TestBitReader_KnownCodes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"zero", []byte{0x80}, 0},
		{"one", []byte{0x40}, 1},
		{"two", []byte{0x60}, 2},
		{"three", []byte{0x20}, 3},
		{"six", []byte{0x38}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBitReader(tt.data).ReadUE()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBitReader_InvalidGolomb(t *testing.T) {
	br := NewBitReader([]byte{0, 0, 0, 0, 0, 0})
	_, err := br.ReadUE()
	assert.ErrorIs(t, err, ErrInvalidGolomb)
}

func TestBitReader_ReadUEMax(t *testing.T) {
	bw := NewBitWriter()
	bw.WriteUE(40)
	_, err := NewBitReader(bw.Bytes()).ReadUEMax(31, "seq_parameter_set_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seq_parameter_set_id out of range")
}

func TestBitReader_MoreRBSPData(t *testing.T) {
	bw := NewBitWriter()
	bw.WriteBits(0x5, 3)
	bw.WriteTrailingBits()

	br := NewBitReader(bw.Bytes())
	assert.True(t, br.MoreRBSPData())
	_, err := br.ReadBits(3)
	require.NoError(t, err)
	assert.False(t, br.MoreRBSPData())
}

func TestBitReader_PeekDoesNotAdvance(t *testing.T) {
	br := NewBitReader([]byte{0xF0})
	v, err := br.PeekBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xF), v)
	assert.Equal(t, 0, br.BitPosition())

	_, err = br.PeekBits(16)
	assert.Error(t, err)
	assert.False(t, br.Overrun())
}

func TestBitReader_AlignToByte(t *testing.T) {
	br := NewBitReader([]byte{0xFF, 0x01})
	_, _ = br.ReadBits(3)
	assert.False(t, br.ByteAligned())
	br.AlignToByte()
	assert.True(t, br.ByteAligned())
	v, err := br.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01), v)
}
