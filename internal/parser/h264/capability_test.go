package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/testdata"
)

func TestRequiredPresentationLength(t *testing.T) {
	c := New(DefaultOptions())

	assert.Equal(t, sliceHeaderPeek, c.RequiredPresentationLength(0x65))
	assert.Equal(t, sliceHeaderPeek, c.RequiredPresentationLength(0x41))
	assert.Equal(t, 2, c.RequiredPresentationLength(0x06))
	assert.Equal(t, 1, c.RequiredPresentationLength(0x67))
	assert.Equal(t, 1, c.RequiredPresentationLength(0x09))
}

func TestPresentCollatedHeader(t *testing.T) {
	sps := testdata.DefaultSPS()
	pps := testdata.DefaultPPS()
	c := New(DefaultOptions())

	tests := []struct {
		name string
		unit []byte
		want parser.HeaderFlags
	}{
		{"access unit delimiter", testdata.AUD(), parser.PartitionPoint},
		{"sps", sps.Encode(), parser.PartitionPoint},
		{"pps", pps.Encode(), parser.PartitionPoint},
		{"end of sequence", testdata.EndOfSequence(), parser.PartitionPoint},
		{
			name: "recovery point sei",
			unit: testdata.SEI(testdata.RecoveryPoint(0)),
			want: parser.PartitionPoint | parser.PossibleReversiblePoint,
		},
		{
			name: "buffering period sei",
			unit: testdata.SEI(testdata.BufferingPeriod(0, 100)),
			want: parser.PartitionPoint,
		},
		{
			name: "idr slice",
			unit: testdata.Slice{NalRefIdc: 3, IDR: true, Type: 7}.Encode(sps, pps),
			want: parser.FrameData | parser.PartitionPoint | parser.PossibleReversiblePoint | parser.ConfirmReversiblePoint,
		},
		{
			name: "non-idr intra slice",
			unit: testdata.Slice{NalRefIdc: 1, Type: testdata.SliceI, FrameNum: 4}.Encode(sps, pps),
			want: parser.FrameData | parser.PartitionPoint | parser.PossibleReversiblePoint,
		},
		{
			name: "p slice",
			unit: testdata.Slice{NalRefIdc: 1, Type: testdata.SliceP, FrameNum: 1}.Encode(sps, pps),
			want: parser.FrameData | parser.PartitionPoint,
		},
		{
			name: "later slice of a picture",
			unit: testdata.Slice{NalRefIdc: 1, Type: testdata.SliceP, FirstMb: 40, FrameNum: 1}.Encode(sps, pps),
			want: parser.FrameData,
		},
		{"filler", testdata.RawNAL(0, testdata.H264NALFiller, []byte{0xFF, 0x80}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := c.RequiredPresentationLength(tt.unit[0])
			if n > len(tt.unit) {
				n = len(tt.unit)
			}
			assert.Equal(t, tt.want, c.PresentCollatedHeader(tt.unit[0], tt.unit[:n]))
		})
	}
}

func TestPresentCollatedHeader_ShortHeader(t *testing.T) {
	c := New(DefaultOptions())
	assert.Equal(t, parser.FrameData, c.PresentCollatedHeader(0x41, []byte{0x41}))
	assert.True(t, c.PresentCollatedHeader(0x06, []byte{0x06}).Has(parser.PartitionPoint))
}
