package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/frameparser/internal/parser"
)

func testSPS(numRefFrames uint32) *SequenceParameterSet {
	return &SequenceParameterSet{
		Log2MaxFrameNum:       4,
		Log2MaxPicOrderCntLsb: 8,
		NumRefFrames:          numRefFrames,
		FrameMbsOnly:          true,
	}
}

func refFrame(frameNum uint32, poc int32, decodeIndex int) *currentPicture {
	return &currentPicture{
		structure:   parser.StructureFrame,
		frameNum:    frameNum,
		top:         poc,
		bottom:      poc,
		decodeIndex: decodeIndex,
		pairSlot:    -1,
	}
}

func idrFrame(decodeIndex int) *currentPicture {
	c := refFrame(0, 0, decodeIndex)
	c.idr = true
	return c
}

func withMMCO(c *currentPicture, ops ...MMCO) *currentPicture {
	c.adaptive = true
	c.mmcos = ops
	return c
}

func TestReferenceTable_SlidingWindow(t *testing.T) {
	sps := testSPS(2)
	table := newReferenceTable()

	table.mark(sps, idrFrame(0))
	table.mark(sps, refFrame(1, 2, 1))
	assert.Equal(t, []int{0, 1}, table.decodeIndices())

	table.mark(sps, refFrame(2, 4, 2))
	assert.Equal(t, []int{1, 2}, table.decodeIndices())
	assert.Equal(t, 2, table.count())
	assert.Equal(t, uint32(2), table.prevRefFrameNum)
}

func TestReferenceTable_SlidingWindowFrameNumWrap(t *testing.T) {
	sps := testSPS(2)
	table := newReferenceTable()

	table.mark(sps, refFrame(14, 0, 10))
	table.mark(sps, refFrame(15, 2, 11))
	table.mark(sps, refFrame(0, 4, 12))

	assert.Equal(t, []int{11, 12}, table.decodeIndices(), "frame 14 has the smallest FrameNumWrap")
}

func TestReferenceTable_MMCO(t *testing.T) {
	tests := []struct {
		name  string
		refs  int
		setup func(table *referenceTable, sps *SequenceParameterSet)
		cur   *currentPicture
		want  []int
		check func(t *testing.T, table *referenceTable, res markingResult)
	}{
		{
			name: "mmco1 unmarks a short-term frame",
			refs: 4,
			cur:  withMMCO(refFrame(3, 6, 3), MMCO{Op: 1, DifferenceOfPicNumsMinus1: 1}),
			want: []int{0, 2, 3},
		},
		{
			name: "mmco3 converts to long-term",
			refs: 4,
			cur:  withMMCO(refFrame(3, 6, 3), MMCO{Op: 4, MaxLongTermFrameIdxPlus1: 1}, MMCO{Op: 3, DifferenceOfPicNumsMinus1: 2, LongTermFrameIdx: 0}),
			want: []int{0, 1, 2, 3},
			check: func(t *testing.T, table *referenceTable, res markingResult) {
				slot := table.slotOf(0)
				require.GreaterOrEqual(t, slot, 0)
				assert.Equal(t, markLong, table.slots[slot].marking)
				assert.Equal(t, int32(0), table.maxLongTermFrameIdx)
			},
		},
		{
			name: "mmco2 unmarks a long-term frame",
			refs: 4,
			setup: func(table *referenceTable, sps *SequenceParameterSet) {
				table.mark(sps, withMMCO(refFrame(3, 6, 3), MMCO{Op: 4, MaxLongTermFrameIdxPlus1: 1}, MMCO{Op: 3, DifferenceOfPicNumsMinus1: 2}))
			},
			cur:  withMMCO(refFrame(4, 8, 4), MMCO{Op: 2, LongTermPicNum: 0}),
			want: []int{1, 2, 3, 4},
		},
		{
			name: "mmco4 drops long-term indices above the new maximum",
			refs: 4,
			setup: func(table *referenceTable, sps *SequenceParameterSet) {
				table.mark(sps, withMMCO(refFrame(3, 6, 3),
					MMCO{Op: 4, MaxLongTermFrameIdxPlus1: 2},
					MMCO{Op: 3, DifferenceOfPicNumsMinus1: 2, LongTermFrameIdx: 1}))
			},
			cur:  withMMCO(refFrame(4, 8, 4), MMCO{Op: 4, MaxLongTermFrameIdxPlus1: 1}),
			want: []int{1, 2, 3, 4},
		},
		{
			name: "mmco5 clears everything",
			refs: 4,
			cur:  withMMCO(refFrame(3, 6, 3), MMCO{Op: 5}),
			want: []int{3},
			check: func(t *testing.T, table *referenceTable, res markingResult) {
				assert.True(t, res.mmco5)
				assert.Equal(t, uint32(0), table.prevRefFrameNum)
				assert.Equal(t, uint32(0), table.slots[table.slotOf(3)].frameNum)
			},
		},
		{
			name: "mmco6 marks the current picture long-term",
			refs: 4,
			cur:  withMMCO(refFrame(3, 6, 3), MMCO{Op: 4, MaxLongTermFrameIdxPlus1: 1}, MMCO{Op: 6, LongTermFrameIdx: 0}),
			want: []int{0, 1, 2, 3},
			check: func(t *testing.T, table *referenceTable, res markingResult) {
				assert.Equal(t, markLong, table.slots[table.slotOf(3)].marking)
				assert.Equal(t, 3, table.shortCount())
			},
		},
		{
			name: "overflow evicts the lowest decode index",
			refs: 3,
			cur:  withMMCO(refFrame(3, 6, 3)),
			want: []int{1, 2, 3},
			check: func(t *testing.T, table *referenceTable, res markingResult) {
				assert.Equal(t, []int{0}, res.evicted)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sps := testSPS(uint32(tt.refs))
			table := newReferenceTable()
			table.mark(sps, idrFrame(0))
			table.mark(sps, refFrame(1, 2, 1))
			table.mark(sps, refFrame(2, 4, 2))
			if tt.setup != nil {
				tt.setup(&table, sps)
			}

			res := table.mark(sps, tt.cur)
			assert.Equal(t, tt.want, table.decodeIndices())
			assert.LessOrEqual(t, table.count(), tt.refs)
			if tt.check != nil {
				tt.check(t, &table, res)
			}
		})
	}
}

func TestReferenceTable_IDRLongTerm(t *testing.T) {
	sps := testSPS(4)
	table := newReferenceTable()
	table.mark(sps, idrFrame(0))
	table.mark(sps, refFrame(1, 2, 1))

	cur := idrFrame(5)
	cur.longTerm = true
	table.mark(sps, cur)

	assert.Equal(t, []int{5}, table.decodeIndices())
	assert.Equal(t, markLong, table.slots[table.slotOf(5)].marking)
	assert.Equal(t, int32(0), table.maxLongTermFrameIdx)
}

func TestReferenceTable_FieldPair(t *testing.T) {
	sps := testSPS(2)
	sps.FrameMbsOnly = false
	table := newReferenceTable()

	top := &currentPicture{structure: parser.StructureTopField, top: 0, decodeIndex: 0, idr: true, pairSlot: -1}
	table.mark(sps, top)
	slot := table.slotOf(0)
	require.GreaterOrEqual(t, slot, 0)
	assert.Equal(t, markTopShort, table.slots[slot].marking)

	bottom := &currentPicture{structure: parser.StructureBottomField, bottom: 1, decodeIndex: 0, pairSlot: slot}
	table.mark(sps, bottom)
	assert.Equal(t, 1, table.count(), "both fields share one slot")
	assert.Equal(t, markShort, table.slots[slot].marking)
	assert.Equal(t, int32(0), table.slots[slot].topPOC)
	assert.Equal(t, int32(1), table.slots[slot].bottomPOC)
}

func TestReferenceTable_FillGaps(t *testing.T) {
	sps := testSPS(2)
	sps.GapsInFrameNumAllowed = true
	table := newReferenceTable()
	table.mark(sps, idrFrame(0))

	gap := table.fillGaps(sps, 4)
	assert.Equal(t, 3, gap)
	assert.Equal(t, 2, table.count())
	assert.Empty(t, table.decodeIndices(), "inferred frames have no decode index")
	assert.Equal(t, uint32(3), table.prevRefFrameNum)

	assert.Equal(t, 0, table.fillGaps(sps, 4), "no gap to the next frame_num")
}

func TestReferenceTable_FillGapsWithoutHistory(t *testing.T) {
	table := newReferenceTable()
	assert.Equal(t, 0, table.fillGaps(testSPS(2), 9))
	assert.Equal(t, 0, table.count())
}

func TestReferenceTable_Clear(t *testing.T) {
	sps := testSPS(4)
	table := newReferenceTable()
	table.mark(sps, idrFrame(3))
	table.mark(sps, refFrame(1, 2, 4))

	assert.Equal(t, []int{3, 4}, table.clear())
	assert.Equal(t, 0, table.count())
	assert.False(t, table.haveRefFrameNum)
}

func TestReleased(t *testing.T) {
	assert.Equal(t, []int{1, 3}, released([]int{1, 2, 3, 4}, []int{2, 4, 5}))
	assert.Nil(t, released([]int{1}, []int{1}))
	assert.Nil(t, released(nil, []int{7}))
}
