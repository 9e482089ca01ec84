package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveEmulationPrevention(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no stuffing", []byte{0x67, 0x42, 0x00, 0x1E}, []byte{0x67, 0x42, 0x00, 0x1E}},
		{"single", []byte{0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x01}},
		{"trailing", []byte{0x11, 0x00, 0x00, 0x03}, []byte{0x11, 0x00, 0x00}},
		{"consecutive", []byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00}, []byte{0x00, 0x00, 0x00, 0x00, 0x00}},
		{"literal 03", []byte{0x00, 0x00, 0x03, 0x03}, []byte{0x00, 0x00, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveEmulationPrevention(tt.in))
		})
	}
}

func TestAddRemoveEmulationPrevention_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00, 0x00, 0x00, 0x01},
		{0x00, 0x00, 0x02, 0x00, 0x00, 0x03},
		{0x65, 0x88, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00},
	}
	for _, p := range payloads {
		stuffed := AddEmulationPrevention(p)
		assert.Equal(t, p, RemoveEmulationPrevention(stuffed))
	}
}

func TestAntiEmulationFilter_SplitAcrossRefill(t *testing.T) {
	raw := []byte{0xAB, 0x00, 0x00, 0x03, 0x01, 0xCD}
	f := NewAntiEmulationFilter()
	f.Load(raw)

	// First window ends right after the two zeros.
	f.Ensure(3)
	v, err := f.Reader().ReadBits(24)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAB0000), v)
	require.NoError(t, f.Verify())

	f.Ensure(2)
	v, err = f.Reader().ReadBits(16)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01CD), v, "0x03 after a refill boundary must be stripped")
	assert.Equal(t, 1, f.Stripped())
	require.NoError(t, f.Verify())
}

func TestAntiEmulationFilter_VerifyOverrun(t *testing.T) {
	f := NewAntiEmulationFilter()
	f.Load([]byte{0x11, 0x22, 0x33, 0x44})

	f.Ensure(1)
	_, err := f.Reader().ReadBits(16)
	require.Error(t, err)
	assert.ErrorIs(t, f.Verify(), ErrFilterOverrun)
}

func TestAntiEmulationFilter_VerifyEndOfData(t *testing.T) {
	f := NewAntiEmulationFilter()
	f.Load([]byte{0x11})

	f.Ensure(8)
	_, err := f.Reader().ReadBits(16)
	require.Error(t, err)
	assert.ErrorIs(t, f.Verify(), ErrEndOfData)
}

func TestAntiEmulationFilter_ReloadResetsState(t *testing.T) {
	f := NewAntiEmulationFilter()
	f.Load([]byte{0x00, 0x00})
	f.EnsureAll()

	f.Load([]byte{0x03, 0x7F})
	f.EnsureAll()
	v, err := f.Reader().ReadBits(16)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x037F), v)
	assert.Equal(t, 0, f.Stripped())
}
