package h264

// epochStep separates the picture order counts of successive coded video
// sequences in the extended order key.
const epochStep = int64(1) << 32

// pocState is the prediction state of 8.2.1 carried from picture to picture.
type pocState struct {
	prevPicOrderCntMsb int32
	prevPicOrderCntLsb int32
	prevFrameNumOffset int32
	prevFrameNum       uint32

	epoch int64
	// seed makes the next picture start prediction as an IDR would.
	seed bool
}

// pocResult is the picture order count of one picture and the state to
// carry forward once the picture is committed.
type pocResult struct {
	top    int32
	bottom int32
	// poc is PicOrderCnt() of the picture after any MMCO5 rebase.
	poc      int32
	extended int64
	next     pocState
}

// computePOC derives TopFieldOrderCnt and BottomFieldOrderCnt for the
// picture sh starts (8.2.1).
func (st pocState) computePOC(sps *SequenceParameterSet, sh *SliceHeader) pocResult {
	res := pocResult{next: st}
	res.next.seed = false

	restart := sh.IDR || st.seed
	if restart {
		res.next.epoch += epochStep
	}

	var top, bottom int32
	switch sps.PicOrderCntType {
	case 0:
		top, bottom = st.type0(sps, sh, restart, &res.next)
	case 1:
		top, bottom = st.type1(sps, sh, restart, &res.next)
	default:
		top, bottom = st.type2(sps, sh, restart, &res.next)
	}

	mmco5 := sh.HasMMCO5()
	if mmco5 {
		// The picture is rebased so that it starts the new epoch at zero.
		temp := pictureOrder(sh, top, bottom)
		top -= temp
		bottom -= temp
		res.next.epoch += epochStep
		res.next.prevFrameNumOffset = 0
		res.next.prevFrameNum = 0
		if sh.Reference() {
			res.next.prevPicOrderCntMsb = 0
			if sh.FieldPic && sh.BottomField {
				res.next.prevPicOrderCntLsb = 0
			} else {
				res.next.prevPicOrderCntLsb = top
			}
		}
	}

	res.top, res.bottom = top, bottom
	res.poc = pictureOrder(sh, top, bottom)
	res.extended = res.next.epoch + int64(res.poc)
	return res
}

// pictureOrder is PicOrderCnt() of the picture: the lower of the two field
// counts for a frame, the field's own count otherwise.
func pictureOrder(sh *SliceHeader, top, bottom int32) int32 {
	switch {
	case !sh.FieldPic:
		if bottom < top {
			return bottom
		}
		return top
	case sh.BottomField:
		return bottom
	default:
		return top
	}
}

func (st pocState) type0(sps *SequenceParameterSet, sh *SliceHeader, restart bool, next *pocState) (int32, int32) {
	lsb := int32(sh.PicOrderCntLsb)
	max := sps.MaxPicOrderCntLsb()

	prevMsb, prevLsb := st.prevPicOrderCntMsb, st.prevPicOrderCntLsb
	switch {
	case sh.IDR:
		prevMsb, prevLsb = 0, 0
	case st.seed:
		prevMsb, prevLsb = 0, lsb
	}

	var msb int32
	switch {
	case lsb < prevLsb && prevLsb-lsb >= max/2:
		msb = prevMsb + max
	case lsb > prevLsb && lsb-prevLsb > max/2:
		msb = prevMsb - max
	default:
		msb = prevMsb
	}

	var top, bottom int32
	switch {
	case !sh.FieldPic:
		top = msb + lsb
		bottom = top + sh.DeltaPicOrderCntBottom
	case sh.BottomField:
		bottom = msb + lsb
		top = bottom
	default:
		top = msb + lsb
		bottom = top
	}

	if sh.Reference() {
		next.prevPicOrderCntMsb = msb
		next.prevPicOrderCntLsb = lsb
	} else if restart {
		next.prevPicOrderCntMsb = prevMsb
		next.prevPicOrderCntLsb = prevLsb
	}
	next.prevFrameNum = sh.FrameNum
	return top, bottom
}

// frameNumOffset is FrameNumOffset of 8.2.1.2 and 8.2.1.3.
func (st pocState) frameNumOffset(sps *SequenceParameterSet, sh *SliceHeader, restart bool) int32 {
	switch {
	case restart:
		return 0
	case st.prevFrameNum > sh.FrameNum:
		return st.prevFrameNumOffset + int32(sps.MaxFrameNum())
	default:
		return st.prevFrameNumOffset
	}
}

func (st pocState) type1(sps *SequenceParameterSet, sh *SliceHeader, restart bool, next *pocState) (int32, int32) {
	offset := st.frameNumOffset(sps, sh, restart)
	next.prevFrameNumOffset = offset
	next.prevFrameNum = sh.FrameNum

	cycle := int32(len(sps.OffsetForRefFrame))
	var absFrameNum int32
	if cycle != 0 {
		absFrameNum = offset + int32(sh.FrameNum)
	}
	if !sh.Reference() && absFrameNum > 0 {
		absFrameNum--
	}

	var expected int32
	if absFrameNum > 0 {
		var deltaPerCycle int32
		for _, o := range sps.OffsetForRefFrame {
			deltaPerCycle += o
		}
		cycleCnt := (absFrameNum - 1) / cycle
		inCycle := (absFrameNum - 1) % cycle
		expected = cycleCnt * deltaPerCycle
		for i := int32(0); i <= inCycle; i++ {
			expected += sps.OffsetForRefFrame[i]
		}
	}
	if !sh.Reference() {
		expected += sps.OffsetForNonRefPic
	}

	var top, bottom int32
	switch {
	case !sh.FieldPic:
		top = expected + sh.DeltaPicOrderCnt[0]
		bottom = top + sps.OffsetForTopToBottomField + sh.DeltaPicOrderCnt[1]
	case sh.BottomField:
		bottom = expected + sps.OffsetForTopToBottomField + sh.DeltaPicOrderCnt[0]
		top = bottom
	default:
		top = expected + sh.DeltaPicOrderCnt[0]
		bottom = top
	}
	return top, bottom
}

func (st pocState) type2(sps *SequenceParameterSet, sh *SliceHeader, restart bool, next *pocState) (int32, int32) {
	offset := st.frameNumOffset(sps, sh, restart)
	next.prevFrameNumOffset = offset
	next.prevFrameNum = sh.FrameNum

	var temp int32
	switch {
	case sh.IDR:
		temp = 0
	case sh.Reference():
		temp = 2 * (offset + int32(sh.FrameNum))
	default:
		temp = 2*(offset+int32(sh.FrameNum)) - 1
	}
	return temp, temp
}

// endOfSequence forgets prediction so the next picture starts afresh.
func (st *pocState) endOfSequence() {
	st.prevPicOrderCntMsb = 0
	st.prevPicOrderCntLsb = 0
	st.prevFrameNumOffset = 0
	st.prevFrameNum = 0
	st.seed = true
}

// dpbTiming derives the DPB output key of 4.4 from buffering_period and
// pic_timing: removal = base + cpb_removal_delay, key = removal +
// dpb_output_delay, where base is the removal time of the last picture
// that carried a buffering period.
type dpbTiming struct {
	base     int64
	haveBase bool
}

// key returns the output key of a picture and the timing state after it.
func (t dpbTiming) key(pt *PicTiming, bufferingPeriod bool) (int64, bool, dpbTiming) {
	if pt == nil || !pt.DelaysPresent {
		return 0, false, t
	}

	var removal int64
	if t.haveBase {
		removal = t.base + int64(pt.CpbRemovalDelay)
	}
	next := t
	if bufferingPeriod || !t.haveBase {
		next = dpbTiming{base: removal, haveBase: true}
	}
	return removal + int64(pt.DpbOutputDelay), true, next
}
