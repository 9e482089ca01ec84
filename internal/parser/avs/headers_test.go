package avs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/testdata"
	"github.com/zsiec/frameparser/internal/timestamp"
)

func TestParseSequenceHeader(t *testing.T) {
	seq, err := parseSequenceHeader(testdata.DefaultAVSSequence().Encode()[1:])
	require.NoError(t, err)

	assert.Equal(t, uint8(0x20), seq.ProfileID)
	assert.Equal(t, uint8(0x42), seq.LevelID)
	assert.True(t, seq.ProgressiveSequence)
	assert.Equal(t, uint16(1920), seq.HorizontalSize)
	assert.Equal(t, uint16(1080), seq.VerticalSize)
	assert.Equal(t, uint8(1), seq.ChromaFormat)
	assert.Equal(t, uint32(1<<18+5), seq.BitRate)
	assert.Equal(t, uint32(0x1000), seq.BBVBufferSize)
	assert.False(t, seq.LowDelay)
	assert.Equal(t, timestamp.Rational{Num: 25, Den: 1}, seq.FrameRate())
	assert.Equal(t, 1, seq.ReorderLimit())
}

func TestParseSequenceHeader_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*testdata.AVSSequenceHeader)
	}{
		{"zero height", func(s *testdata.AVSSequenceHeader) { s.Height = 0 }},
		{"reserved frame rate", func(s *testdata.AVSSequenceHeader) { s.FrameRateCode = 0 }},
		{"frame rate above table", func(s *testdata.AVSSequenceHeader) { s.FrameRateCode = 13 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := testdata.DefaultAVSSequence()
			tt.modify(&hdr)
			_, err := parseSequenceHeader(hdr.Encode()[1:])
			assert.ErrorIs(t, err, errors.ErrHeaderSyntax)
		})
	}
}

func TestParsePictureHeader(t *testing.T) {
	base := testdata.DefaultAVSSequence()
	lowDelay := base
	lowDelay.LowDelay = true

	tests := []struct {
		name  string
		seq   testdata.AVSSequenceHeader
		hdr   testdata.AVSPictureHeader
		check func(t *testing.T, ph *PictureHeader)
	}{
		{
			name: "progressive intra",
			seq:  base,
			hdr:  testdata.AVSPictureHeader{Distance: 4, ProgressiveFrame: true},
			check: func(t *testing.T, ph *PictureHeader) {
				assert.Equal(t, parser.CodingI, ph.CodingType)
				assert.Equal(t, uint8(4), ph.PictureDistance)
				assert.Equal(t, uint8(structureFrame), ph.PictureStructure)
				assert.Equal(t, uint8(26), ph.PictureQP)
				assert.False(t, ph.Interlaced())
			},
		},
		{
			name: "single reference P",
			seq:  base,
			hdr:  testdata.AVSPictureHeader{CodingType: testdata.AVSCodingP, Distance: 9, ProgressiveFrame: true, SingleRef: true},
			check: func(t *testing.T, ph *PictureHeader) {
				assert.Equal(t, parser.CodingP, ph.CodingType)
				assert.True(t, ph.PictureReferenceFlag)
				assert.True(t, ph.SkipModeFlag)
			},
		},
		{
			name: "field coded B",
			seq:  base,
			hdr:  testdata.AVSPictureHeader{CodingType: testdata.AVSCodingB, Distance: 255, FieldCoded: true, TopFieldFirst: true},
			check: func(t *testing.T, ph *PictureHeader) {
				assert.Equal(t, parser.CodingB, ph.CodingType)
				assert.Equal(t, uint8(255), ph.PictureDistance)
				assert.Equal(t, uint8(0), ph.PictureStructure)
				assert.True(t, ph.Interlaced())
				assert.True(t, ph.TopFieldFirst)
				assert.False(t, ph.PictureReferenceFlag)
			},
		},
		{
			name: "loop filter offsets",
			seq:  base,
			hdr:  testdata.AVSPictureHeader{CodingType: testdata.AVSCodingP, ProgressiveFrame: true, LoopFilterOffs: true, AlphaCOffset: -2, BetaOffset: 3},
			check: func(t *testing.T, ph *PictureHeader) {
				assert.True(t, ph.LoopFilterParameters)
				assert.Equal(t, int32(-2), ph.AlphaCOffset)
				assert.Equal(t, int32(3), ph.BetaOffset)
			},
		},
		{
			name: "low delay check times",
			seq:  lowDelay,
			hdr:  testdata.AVSPictureHeader{Distance: 7, ProgressiveFrame: true},
			check: func(t *testing.T, ph *PictureHeader) {
				assert.Equal(t, uint8(7), ph.PictureDistance)
				assert.Equal(t, uint8(26), ph.PictureQP)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := parseSequenceHeader(tt.seq.Encode()[1:])
			require.NoError(t, err)
			unit := tt.hdr.Encode(tt.seq)
			ph, err := parsePictureHeader(unit[0], unit[1:], seq)
			require.NoError(t, err)
			tt.check(t, ph)
		})
	}
}

func TestParsePictureHeader_InvalidType(t *testing.T) {
	base := testdata.DefaultAVSSequence()
	seq, err := parseSequenceHeader(base.Encode()[1:])
	require.NoError(t, err)

	unit := testdata.AVSPictureHeader{CodingType: 3, ProgressiveFrame: true}.Encode(base)
	_, err = parsePictureHeader(unit[0], unit[1:], seq)
	assert.ErrorIs(t, err, errors.ErrHeaderSyntax)
}
