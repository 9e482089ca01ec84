package h264

import (
	"sort"

	"github.com/zsiec/frameparser/internal/parser"
)

// Marking bits of a reference slot.
const (
	markTopShort uint8 = 1 << iota
	markBottomShort
	markTopLong
	markBottomLong

	markShort = markTopShort | markBottomShort
	markLong  = markTopLong | markBottomLong
)

// noLongTermFrameIdx is MaxLongTermFrameIdx when no long-term frame indices
// are allowed.
const noLongTermFrameIdx = -1

func shortBit(parity parser.PictureStructure) uint8 {
	switch parity {
	case parser.StructureTopField:
		return markTopShort
	case parser.StructureBottomField:
		return markBottomShort
	default:
		return markShort
	}
}

func longBit(parity parser.PictureStructure) uint8 {
	switch parity {
	case parser.StructureTopField:
		return markTopLong
	case parser.StructureBottomField:
		return markBottomLong
	default:
		return markLong
	}
}

func oppositeParity(parity parser.PictureStructure) parser.PictureStructure {
	if parity == parser.StructureTopField {
		return parser.StructureBottomField
	}
	return parser.StructureTopField
}

// refSlot is one frame, complementary field pair or non-paired field of
// the reference table.
type refSlot struct {
	marking          uint8
	frameNum         uint32
	frameNumWrap     int32
	longTermFrameIdx uint32
	topPOC           int32
	bottomPOC        int32
	decodeIndex      int
	nonExisting      bool
}

func (s *refSlot) inUse() bool {
	return s.marking != 0
}

// fieldPOC returns the order count of one parity.
func (s *refSlot) fieldPOC(parity parser.PictureStructure) int32 {
	if parity == parser.StructureBottomField {
		return s.bottomPOC
	}
	return s.topPOC
}

// framePOC is PicOrderCnt() of the entry over the fields carrying mark.
func (s *refSlot) framePOC(mark uint8) int32 {
	top := s.marking&mark&(markTopShort|markTopLong) != 0
	bottom := s.marking&mark&(markBottomShort|markBottomLong) != 0
	switch {
	case top && bottom:
		if s.bottomPOC < s.topPOC {
			return s.bottomPOC
		}
		return s.topPOC
	case bottom:
		return s.bottomPOC
	default:
		return s.topPOC
	}
}

// referenceTable is the reference picture marking state of 8.2.5.
type referenceTable struct {
	slots               [MaxReferenceFrames + 1]refSlot
	maxLongTermFrameIdx int32

	prevRefFrameNum uint32
	haveRefFrameNum bool
}

func newReferenceTable() referenceTable {
	return referenceTable{maxLongTermFrameIdx: noLongTermFrameIdx}
}

// count returns the number of slots holding references.
func (t *referenceTable) count() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse() {
			n++
		}
	}
	return n
}

func (t *referenceTable) shortCount() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].marking&markShort != 0 {
			n++
		}
	}
	return n
}

// decodeIndices returns the decode indices held, in increasing order.
func (t *referenceTable) decodeIndices() []int {
	var out []int
	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse() && s.decodeIndex != parser.InvalidIndex {
			out = append(out, s.decodeIndex)
		}
	}
	sort.Ints(out)
	return out
}

// clear drops every reference and returns the decode indices held.
func (t *referenceTable) clear() []int {
	held := t.decodeIndices()
	for i := range t.slots {
		t.slots[i] = refSlot{}
	}
	t.maxLongTermFrameIdx = noLongTermFrameIdx
	t.haveRefFrameNum = false
	return held
}

func (t *referenceTable) freeSlot() int {
	for i := range t.slots {
		if !t.slots[i].inUse() {
			return i
		}
	}
	return -1
}

// slotOf returns the slot holding decodeIndex, or -1.
func (t *referenceTable) slotOf(decodeIndex int) int {
	if decodeIndex == parser.InvalidIndex {
		return -1
	}
	for i := range t.slots {
		if t.slots[i].inUse() && t.slots[i].decodeIndex == decodeIndex {
			return i
		}
	}
	return -1
}

// updateWraps computes FrameNumWrap of every short-term slot relative to
// frameNum (8.2.4.1).
func (t *referenceTable) updateWraps(frameNum, maxFrameNum uint32) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.marking&markShort == 0 {
			continue
		}
		if s.frameNum > frameNum {
			s.frameNumWrap = int32(s.frameNum) - int32(maxFrameNum)
		} else {
			s.frameNumWrap = int32(s.frameNum)
		}
	}
}

// picNum is PicNum of the short-term picture (slot, parity) seen from a
// picture of structure cur.
func (t *referenceTable) picNum(slot int, parity, cur parser.PictureStructure) int32 {
	wrap := t.slots[slot].frameNumWrap
	if cur == parser.StructureFrame {
		return wrap
	}
	if parity == cur {
		return 2*wrap + 1
	}
	return 2 * wrap
}

// longTermPicNum is LongTermPicNum of (slot, parity) seen from cur.
func (t *referenceTable) longTermPicNum(slot int, parity, cur parser.PictureStructure) int32 {
	idx := int32(t.slots[slot].longTermFrameIdx)
	if cur == parser.StructureFrame {
		return idx
	}
	if parity == cur {
		return 2*idx + 1
	}
	return 2 * idx
}

// findShortTerm locates the short-term picture with PicNum picNum.
func (t *referenceTable) findShortTerm(picNum int32, cur parser.PictureStructure) (int, parser.PictureStructure, bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if cur == parser.StructureFrame {
			if s.marking&markShort == markShort && t.picNum(i, cur, cur) == picNum {
				return i, parser.StructureFrame, true
			}
			continue
		}
		for _, parity := range []parser.PictureStructure{parser.StructureTopField, parser.StructureBottomField} {
			if s.marking&shortBit(parity) != 0 && t.picNum(i, parity, cur) == picNum {
				return i, parity, true
			}
		}
	}
	return -1, parser.StructureFrame, false
}

// findLongTerm locates the long-term picture with LongTermPicNum num.
func (t *referenceTable) findLongTerm(num int32, cur parser.PictureStructure) (int, parser.PictureStructure, bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if cur == parser.StructureFrame {
			if s.marking&markLong == markLong && t.longTermPicNum(i, cur, cur) == num {
				return i, parser.StructureFrame, true
			}
			continue
		}
		for _, parity := range []parser.PictureStructure{parser.StructureTopField, parser.StructureBottomField} {
			if s.marking&longBit(parity) != 0 && t.longTermPicNum(i, parity, cur) == num {
				return i, parity, true
			}
		}
	}
	return -1, parser.StructureFrame, false
}

func (t *referenceTable) unmark(slot int, bits uint8) {
	s := &t.slots[slot]
	s.marking &^= bits
	if s.marking == 0 {
		*s = refSlot{}
	}
}

// slidingWindow is 8.2.5.3: with the table full, the short-term entry with
// the smallest FrameNumWrap is dropped.
func (t *referenceTable) slidingWindow(maxRefs int) {
	if t.count() < maxRefs || t.shortCount() == 0 {
		return
	}
	victim := -1
	for i := range t.slots {
		s := &t.slots[i]
		if s.marking&markShort == 0 {
			continue
		}
		if victim < 0 || s.frameNumWrap < t.slots[victim].frameNumWrap {
			victim = i
		}
	}
	t.unmark(victim, markShort)
}

// fillGaps inserts non-existing frames for every frame_num skipped since
// the previous reference picture (8.2.5.2). Only the last maxRefs of them
// can survive the sliding window, so earlier ones are not materialised.
func (t *referenceTable) fillGaps(sps *SequenceParameterSet, frameNum uint32) int {
	if !t.haveRefFrameNum {
		return 0
	}
	max := sps.MaxFrameNum()
	prev := t.prevRefFrameNum
	if frameNum == prev || frameNum == (prev+1)%max {
		return 0
	}

	maxRefs := maxReferences(sps)
	gap := int((frameNum + max - prev - 1) % max)
	skip := gap - maxRefs
	if skip < 0 {
		skip = 0
	}
	for i := skip; i < gap; i++ {
		unused := (prev + 1 + uint32(i)) % max
		t.updateWraps(unused, max)
		t.slidingWindow(maxRefs)
		slot := t.freeSlot()
		t.slots[slot] = refSlot{
			marking:     markShort,
			frameNum:    unused,
			decodeIndex: parser.InvalidIndex,
			nonExisting: true,
		}
		t.prevRefFrameNum = unused
	}
	return gap
}

func maxReferences(sps *SequenceParameterSet) int {
	if sps.NumRefFrames == 0 {
		return 1
	}
	return int(sps.NumRefFrames)
}

// currentPicture is the picture being marked.
type currentPicture struct {
	structure   parser.PictureStructure
	frameNum    uint32
	top, bottom int32
	decodeIndex int
	idr         bool
	longTerm    bool
	adaptive    bool
	mmcos       []MMCO
	// pairSlot holds the first field when the picture is the second field
	// of a pair, else -1.
	pairSlot int
}

func (c *currentPicture) currPicNum() int32 {
	if c.structure == parser.StructureFrame {
		return int32(c.frameNum)
	}
	return 2*int32(c.frameNum) + 1
}

// markingResult reports what marking a picture did beyond the normal
// process.
type markingResult struct {
	evicted []int
	mmco5   bool
}

// mark applies the reference marking of 8.2.5.1 for a reference picture.
func (t *referenceTable) mark(sps *SequenceParameterSet, cur *currentPicture) markingResult {
	var res markingResult
	maxRefs := maxReferences(sps)
	t.updateWraps(cur.frameNum, sps.MaxFrameNum())

	markedLong := false
	switch {
	case cur.idr:
		t.clear()
		if cur.longTerm {
			t.maxLongTermFrameIdx = 0
			markedLong = true
			t.place(cur, longBit(cur.structure), 0)
		} else {
			t.maxLongTermFrameIdx = noLongTermFrameIdx
		}
	case cur.adaptive:
		for _, op := range cur.mmcos {
			switch op.Op {
			case 1:
				picNumX := cur.currPicNum() - int32(op.DifferenceOfPicNumsMinus1+1)
				if slot, parity, ok := t.findShortTerm(picNumX, cur.structure); ok {
					t.unmark(slot, shortBit(parity))
				}
			case 2:
				if slot, parity, ok := t.findLongTerm(int32(op.LongTermPicNum), cur.structure); ok {
					t.unmark(slot, longBit(parity))
				}
			case 3:
				picNumX := cur.currPicNum() - int32(op.DifferenceOfPicNumsMinus1+1)
				slot, parity, ok := t.findShortTerm(picNumX, cur.structure)
				if !ok {
					continue
				}
				t.releaseLongTermIdx(op.LongTermFrameIdx, slot)
				s := &t.slots[slot]
				s.marking &^= shortBit(parity)
				s.marking |= longBit(parity)
				s.longTermFrameIdx = op.LongTermFrameIdx
			case 4:
				t.maxLongTermFrameIdx = int32(op.MaxLongTermFrameIdxPlus1) - 1
				for i := range t.slots {
					s := &t.slots[i]
					if s.marking&markLong != 0 && int32(s.longTermFrameIdx) > t.maxLongTermFrameIdx {
						t.unmark(i, markLong)
					}
				}
			case 5:
				for i := range t.slots {
					if i != cur.pairSlot {
						t.slots[i] = refSlot{}
					}
				}
				t.maxLongTermFrameIdx = noLongTermFrameIdx
				cur.frameNum = 0
				res.mmco5 = true
			case 6:
				t.releaseLongTermIdx(op.LongTermFrameIdx, cur.pairSlot)
				t.place(cur, longBit(cur.structure), op.LongTermFrameIdx)
				markedLong = true
			}
		}
	default:
		if !(cur.pairSlot >= 0 && t.slots[cur.pairSlot].marking&markShort != 0) {
			t.slidingWindow(maxRefs)
		}
	}

	if !markedLong {
		t.place(cur, shortBit(cur.structure), 0)
	}

	// Streams that exceed max_num_ref_frames lose their oldest reference.
	current := t.slotOf(cur.decodeIndex)
	for t.count() > maxRefs {
		victim := -1
		for i := range t.slots {
			s := &t.slots[i]
			if !s.inUse() || i == current {
				continue
			}
			if victim < 0 || s.decodeIndex < t.slots[victim].decodeIndex {
				victim = i
			}
		}
		if victim < 0 {
			break
		}
		if idx := t.slots[victim].decodeIndex; idx != parser.InvalidIndex {
			res.evicted = append(res.evicted, idx)
		}
		t.slots[victim] = refSlot{}
	}

	if res.mmco5 {
		t.prevRefFrameNum = 0
	} else {
		t.prevRefFrameNum = cur.frameNum
	}
	t.haveRefFrameNum = true
	return res
}

// releaseLongTermIdx unmarks whatever holds LongTermFrameIdx idx unless it
// is the other field of keep.
func (t *referenceTable) releaseLongTermIdx(idx uint32, keep int) {
	for i := range t.slots {
		s := &t.slots[i]
		if i == keep || s.marking&markLong == 0 || s.longTermFrameIdx != idx {
			continue
		}
		t.unmark(i, markLong)
	}
}

// place records the current picture with the given marking bits, joining
// the first field's slot for a second field.
func (t *referenceTable) place(cur *currentPicture, bits uint8, longTermFrameIdx uint32) {
	slot := cur.pairSlot
	if slot < 0 || !t.slots[slot].inUse() {
		slot = t.freeSlot()
		if slot < 0 {
			return
		}
		t.slots[slot] = refSlot{decodeIndex: cur.decodeIndex}
	}
	s := &t.slots[slot]
	s.marking |= bits
	s.frameNum = cur.frameNum
	if bits&markLong != 0 {
		s.longTermFrameIdx = longTermFrameIdx
	}
	switch cur.structure {
	case parser.StructureTopField:
		s.topPOC = cur.top
	case parser.StructureBottomField:
		s.bottomPOC = cur.bottom
	default:
		s.topPOC, s.bottomPOC = cur.top, cur.bottom
	}
	if cur.structure == parser.StructureFrame || s.decodeIndex == parser.InvalidIndex {
		s.decodeIndex = cur.decodeIndex
	}
	cur.pairSlot = slot
}
