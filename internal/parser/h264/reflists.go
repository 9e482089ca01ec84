package h264

import (
	"sort"

	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
)

// refPic is one entry of a reference picture list. slot is -1 for "no
// reference picture".
type refPic struct {
	slot   int
	parity parser.PictureStructure
	long   bool
	poc    int32
}

var noReference = refPic{slot: -1}

// shortFrames returns the slots whose short-term marking matches: both
// fields for frame decoding, either field otherwise.
func (t *referenceTable) shortFrames(field bool) []int {
	var out []int
	for i := range t.slots {
		m := t.slots[i].marking & markShort
		if m == markShort || (field && m != 0) {
			out = append(out, i)
		}
	}
	return out
}

func (t *referenceTable) longFrames(field bool) []int {
	var out []int
	for i := range t.slots {
		m := t.slots[i].marking & markLong
		if m == markLong || (field && m != 0) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return t.slots[out[a]].longTermFrameIdx < t.slots[out[b]].longTermFrameIdx
	})
	return out
}

func (t *referenceTable) frameEntries(slots []int, long bool) []refPic {
	out := make([]refPic, len(slots))
	mark := uint8(markShort)
	if long {
		mark = markLong
	}
	for i, s := range slots {
		out[i] = refPic{slot: s, parity: parser.StructureFrame, long: long, poc: t.slots[s].framePOC(mark)}
	}
	return out
}

// pocPartitions splits slots around cur: before holds POC <= cur in
// descending order, after holds POC > cur ascending. Frames compare with
// strict less-than as 8.2.4.2.3 defines.
func (t *referenceTable) pocPartitions(slots []int, cur int32, field bool) (before, after []int) {
	for _, s := range slots {
		p := t.slots[s].framePOC(markShort)
		if p < cur || (field && p == cur) {
			before = append(before, s)
		} else if p > cur {
			after = append(after, s)
		}
	}
	sort.Slice(before, func(a, b int) bool {
		return t.slots[before[a]].framePOC(markShort) > t.slots[before[b]].framePOC(markShort)
	})
	sort.Slice(after, func(a, b int) bool {
		return t.slots[after[a]].framePOC(markShort) < t.slots[after[b]].framePOC(markShort)
	})
	return before, after
}

// alternateFields turns a frame-ordered slot list into a field list that
// alternates parity starting with cur (8.2.4.2.5).
func (t *referenceTable) alternateFields(slots []int, cur parser.PictureStructure, long bool) []refPic {
	bitFor := shortBit
	if long {
		bitFor = longBit
	}
	var out []refPic
	next := func(from int, parity parser.PictureStructure) (int, bool) {
		for i := from; i < len(slots); i++ {
			if t.slots[slots[i]].marking&bitFor(parity) != 0 {
				return i, true
			}
		}
		return len(slots), false
	}

	same, opp := cur, oppositeParity(cur)
	i, j := 0, 0
	for {
		var okSame, okOpp bool
		if i, okSame = next(i, same); okSame {
			s := slots[i]
			out = append(out, refPic{slot: s, parity: same, long: long, poc: t.slots[s].fieldPOC(same)})
			i++
		}
		if j, okOpp = next(j, opp); okOpp {
			s := slots[j]
			out = append(out, refPic{slot: s, parity: opp, long: long, poc: t.slots[s].fieldPOC(opp)})
			j++
		}
		if !okSame && !okOpp {
			return out
		}
	}
}

// initialListP builds RefPicList0 for P and SP slices (8.2.4.2.1, 8.2.4.2.2).
func (t *referenceTable) initialListP(cur parser.PictureStructure) []refPic {
	field := cur != parser.StructureFrame
	short := t.shortFrames(field)
	sort.Slice(short, func(a, b int) bool {
		return t.slots[short[a]].frameNumWrap > t.slots[short[b]].frameNumWrap
	})
	long := t.longFrames(field)
	if !field {
		return append(t.frameEntries(short, false), t.frameEntries(long, true)...)
	}
	return append(t.alternateFields(short, cur, false), t.alternateFields(long, cur, true)...)
}

// initialListsB builds RefPicList0 and RefPicList1 for B slices
// (8.2.4.2.3, 8.2.4.2.4).
func (t *referenceTable) initialListsB(cur parser.PictureStructure, poc int32) ([]refPic, []refPic) {
	field := cur != parser.StructureFrame
	before, after := t.pocPartitions(t.shortFrames(field), poc, field)
	long := t.longFrames(field)

	order0 := append(append([]int{}, before...), after...)
	order1 := append(append([]int{}, after...), before...)

	var l0, l1 []refPic
	if field {
		l0 = append(t.alternateFields(order0, cur, false), t.alternateFields(long, cur, true)...)
		l1 = append(t.alternateFields(order1, cur, false), t.alternateFields(long, cur, true)...)
	} else {
		l0 = append(t.frameEntries(order0, false), t.frameEntries(long, true)...)
		l1 = append(t.frameEntries(order1, false), t.frameEntries(long, true)...)
	}

	if len(l1) > 1 && sameList(l0, l1) {
		l1[0], l1[1] = l1[1], l1[0]
	}
	return l0, l1
}

func sameList(a, b []refPic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].slot != b[i].slot || a[i].parity != b[i].parity {
			return false
		}
	}
	return true
}

// modifyList applies ref_pic_list_modification to an initial list and
// truncates it to n entries (8.2.4.3).
func (t *referenceTable) modifyList(initial []refPic, n int, mods []ListModification, cur *currentPicture, sps *SequenceParameterSet) ([]refPic, error) {
	list := make([]refPic, n+1)
	for i := range list {
		if i < len(initial) && i < n {
			list[i] = initial[i]
		} else {
			list[i] = noReference
		}
	}
	if len(mods) == 0 {
		return list[:n], nil
	}

	maxPicNum := int32(sps.MaxFrameNum())
	if cur.structure != parser.StructureFrame {
		maxPicNum *= 2
	}
	currPicNum := cur.currPicNum()
	pred := currPicNum
	refIdx := 0

	for _, op := range mods {
		if refIdx >= n {
			return nil, errors.NewHeaderSyntaxError("ref_pic_list_modification: more operations than active references (%d)", n)
		}

		var entry refPic
		var matches func(refPic) bool
		switch op.Idc {
		case 0, 1:
			abs := int32(op.AbsDiffPicNumMinus1) + 1
			var noWrap int32
			if op.Idc == 0 {
				noWrap = pred - abs
				if noWrap < 0 {
					noWrap += maxPicNum
				}
			} else {
				noWrap = pred + abs
				if noWrap >= maxPicNum {
					noWrap -= maxPicNum
				}
			}
			pred = noWrap
			picNum := noWrap
			if picNum > currPicNum {
				picNum -= maxPicNum
			}
			slot, parity, ok := t.findShortTerm(picNum, cur.structure)
			if !ok {
				return nil, errors.NewInsufficientReferenceFramesError("modification references missing short-term picture %d", picNum)
			}
			entry = refPic{slot: slot, parity: parity, poc: t.entryPOC(slot, parity, markShort)}
			matches = func(p refPic) bool {
				return p.slot >= 0 && !p.long && t.picNum(p.slot, p.parity, cur.structure) == picNum
			}
		case 2:
			num := int32(op.LongTermPicNum)
			slot, parity, ok := t.findLongTerm(num, cur.structure)
			if !ok {
				return nil, errors.NewInsufficientReferenceFramesError("modification references missing long-term picture %d", num)
			}
			entry = refPic{slot: slot, parity: parity, long: true, poc: t.entryPOC(slot, parity, markLong)}
			matches = func(p refPic) bool {
				return p.slot >= 0 && p.long && t.longTermPicNum(p.slot, p.parity, cur.structure) == num
			}
		default:
			continue
		}

		copy(list[refIdx+1:], list[refIdx:n])
		list[refIdx] = entry
		refIdx++
		k := refIdx
		for c := refIdx; c <= n; c++ {
			if !matches(list[c]) {
				list[k] = list[c]
				k++
			}
		}
		for ; k <= n; k++ {
			list[k] = noReference
		}
	}
	return list[:n], nil
}

func (t *referenceTable) entryPOC(slot int, parity parser.PictureStructure, mark uint8) int32 {
	if parity == parser.StructureFrame {
		return t.slots[slot].framePOC(mark)
	}
	return t.slots[slot].fieldPOC(parity)
}

// finishList drops trailing empty entries and converts the list to decode
// index form. Gaps and non-existing frames cannot be referenced.
func (t *referenceTable) finishList(list []refPic, which string) (parser.ReferenceFrameList, error) {
	end := len(list)
	for end > 0 && list[end-1].slot < 0 {
		end--
	}
	if end == 0 {
		return parser.ReferenceFrameList{}, errors.NewInsufficientReferenceFramesError("%s is empty", which)
	}

	out := parser.ReferenceFrameList{Entries: make([]parser.ReferenceEntry, 0, end)}
	for i, p := range list[:end] {
		if p.slot < 0 {
			return parser.ReferenceFrameList{}, errors.NewInsufficientReferenceFramesError("%s entry %d has no reference picture", which, i)
		}
		s := &t.slots[p.slot]
		if s.nonExisting || s.decodeIndex == parser.InvalidIndex {
			return parser.ReferenceFrameList{}, errors.NewInsufficientReferenceFramesError("%s entry %d refers to a missing frame %d", which, i, s.frameNum)
		}
		out.Entries = append(out.Entries, parser.ReferenceEntry{
			DecodeIndex: s.decodeIndex,
			Structure:   p.parity,
			LongTerm:    p.long,
			PicOrderCnt: int64(p.poc),
		})
	}
	return out, nil
}

// buildLists fills parsed with the reference lists of the slice sh. Intra
// slices carry none.
func (t *referenceTable) buildLists(sps *SequenceParameterSet, sh *SliceHeader, poc int32, requireTwo bool, parsed *parser.ParsedFrameParameters) error {
	parsed.NumberOfReferenceFrameLists = 0
	for i := range parsed.ReferenceFrameList {
		parsed.ReferenceFrameList[i] = parser.ReferenceFrameList{}
	}
	if sh.SliceType.IsIntra() {
		return nil
	}

	cur := &currentPicture{structure: sh.Structure(), frameNum: sh.FrameNum, pairSlot: -1}
	t.updateWraps(sh.FrameNum, sps.MaxFrameNum())

	if sh.SliceType != SliceB {
		l0, err := t.modifyList(t.initialListP(cur.structure), int(sh.NumRefIdxL0Active), sh.ModificationL0, cur, sps)
		if err != nil {
			return err
		}
		list, err := t.finishList(l0, "RefPicList0")
		if err != nil {
			return err
		}
		parsed.ReferenceFrameList[0] = list
		parsed.NumberOfReferenceFrameLists = 1
		return nil
	}

	init0, init1 := t.initialListsB(cur.structure, poc)
	l0, err := t.modifyList(init0, int(sh.NumRefIdxL0Active), sh.ModificationL0, cur, sps)
	if err != nil {
		return err
	}
	l1, err := t.modifyList(init1, int(sh.NumRefIdxL1Active), sh.ModificationL1, cur, sps)
	if err != nil {
		return err
	}
	list0, err := t.finishList(l0, "RefPicList0")
	if err != nil {
		return err
	}
	list1, err := t.finishList(l1, "RefPicList1")
	if err != nil {
		return err
	}

	if requireTwo {
		distinct := map[int]struct{}{}
		for _, e := range append(append([]parser.ReferenceEntry{}, list0.Entries...), list1.Entries...) {
			distinct[e.DecodeIndex] = struct{}{}
		}
		if len(distinct) < 2 {
			return errors.NewInsufficientReferenceFramesError("B picture has %d distinct reference frames", len(distinct))
		}
	}

	parsed.ReferenceFrameList[0] = list0
	parsed.ReferenceFrameList[1] = list1
	parsed.NumberOfReferenceFrameLists = 2
	return nil
}
