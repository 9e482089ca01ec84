package h264

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
)

// SEI payload types the parser interprets.
const (
	SEIBufferingPeriod = 0
	SEIPicTiming       = 1
	SEIPanScanRect     = 2
	SEIRecoveryPoint   = 6
)

// numClockTS is NumClockTS of Table D-1 by pic_struct.
var numClockTS = [9]int{1, 1, 1, 2, 2, 3, 3, 2, 3}

// BufferingPeriod is buffering_period() (D.1.2).
type BufferingPeriod struct {
	SPSID uint32

	NalInitialCpbRemovalDelay       []uint32
	NalInitialCpbRemovalDelayOffset []uint32
	VclInitialCpbRemovalDelay       []uint32
	VclInitialCpbRemovalDelayOffset []uint32
}

// ClockTimestamp is one clock timestamp of pic_timing.
type ClockTimestamp struct {
	CtType         uint8
	NuitFieldBased bool
	CountingType   uint8
	FullTimestamp  bool
	Discontinuity  bool
	CntDropped     bool
	NFrames        uint8
	Seconds        uint8
	Minutes        uint8
	Hours          uint8
	TimeOffset     int32
}

// PicTiming is pic_timing() (D.1.3).
type PicTiming struct {
	DelaysPresent   bool
	CpbRemovalDelay uint32
	DpbOutputDelay  uint32

	PicStructPresent bool
	PicStruct        uint8
	Clocks           []ClockTimestamp
}

// PanScanRect is pan_scan_rect() (D.1.4).
type PanScanRect struct {
	ID     uint32
	Cancel bool
	Count  int

	LeftOffset   [3]int32
	RightOffset  [3]int32
	TopOffset    [3]int32
	BottomOffset [3]int32

	RepetitionPeriod uint32
}

// RecoveryPoint is recovery_point() (D.1.8).
type RecoveryPoint struct {
	RecoveryFrameCnt      uint32
	ExactMatch            bool
	BrokenLink            bool
	ChangingSliceGroupIDC uint8
}

// seiState collects the SEI messages that apply to the next picture.
type seiState struct {
	bufferingPeriod *BufferingPeriod
	picTiming       []byte
	panScan         *PanScanRect
	recovery        *RecoveryPoint
}

func (s *seiState) clear() {
	*s = seiState{}
}

// parseSEI reads every message of an SEI RBSP into s. Messages parsed
// before a failure are kept.
func parseSEI(rbsp []byte, s *seiState, lookup func(id uint32) *SequenceParameterSet) error {
	pos := 0
	for pos < len(rbsp) {
		// rbsp_trailing_bits
		if rbsp[pos] == 0x80 && pos == len(rbsp)-1 {
			return nil
		}

		payloadType, n := readSEIValue(rbsp[pos:])
		if n == 0 {
			return errors.NewHeaderSyntaxError("truncated sei payload type")
		}
		pos += n
		payloadSize, n := readSEIValue(rbsp[pos:])
		if n == 0 {
			return errors.NewHeaderSyntaxError("truncated sei payload size")
		}
		pos += n
		if pos+payloadSize > len(rbsp) {
			return errors.NewHeaderSyntaxError("sei payload type %d size %d exceeds message", payloadType, payloadSize)
		}
		payload := rbsp[pos : pos+payloadSize]
		pos += payloadSize

		var err error
		switch payloadType {
		case SEIBufferingPeriod:
			var bp *BufferingPeriod
			if bp, err = parseBufferingPeriod(payload, lookup); err == nil {
				s.bufferingPeriod = bp
			}
		case SEIPicTiming:
			s.picTiming = append(s.picTiming[:0], payload...)
		case SEIPanScanRect:
			var ps *PanScanRect
			if ps, err = parsePanScanRect(payload); err == nil {
				s.panScan = ps
			}
		case SEIRecoveryPoint:
			var rp *RecoveryPoint
			if rp, err = parseRecoveryPoint(payload); err == nil {
				s.recovery = rp
			}
		}
		if err != nil {
			return fmt.Errorf("sei payload type %d: %w", payloadType, err)
		}
	}
	return nil
}

// readSEIValue reads a payload type or size coded as a run of 0xFF bytes
// and a final byte. It returns the number of bytes used, zero if truncated.
func readSEIValue(b []byte) (int, int) {
	v := 0
	for i, c := range b {
		v += int(c)
		if c != 0xFF {
			return v, i + 1
		}
	}
	return 0, 0
}

func parseBufferingPeriod(payload []byte, lookup func(id uint32) *SequenceParameterSet) (*BufferingPeriod, error) {
	r := newSyntaxReader(bitstream.NewBitReader(payload))
	bp := &BufferingPeriod{SPSID: r.ue("seq_parameter_set_id")}
	if err := r.Err("buffering_period"); err != nil {
		return nil, err
	}
	if bp.SPSID >= MaxSPSCount {
		return nil, errors.NewHeaderSyntaxError("buffering period references sps %d", bp.SPSID)
	}
	sps := lookup(bp.SPSID)
	if sps == nil {
		return nil, errors.NewNoStreamParametersError("buffering period references unknown sps %d", bp.SPSID)
	}

	readDelays := func(h *HRDParameters) ([]uint32, []uint32) {
		n := int(h.InitialCpbRemovalDelayLengthM1) + 1
		delays := make([]uint32, h.CpbCount)
		offsets := make([]uint32, h.CpbCount)
		for i := range delays {
			delays[i] = r.u(n, "initial_cpb_removal_delay")
			offsets[i] = r.u(n, "initial_cpb_removal_delay_offset")
		}
		return delays, offsets
	}
	if sps.VUIPresent && sps.VUI.NalHRDPresent {
		bp.NalInitialCpbRemovalDelay, bp.NalInitialCpbRemovalDelayOffset = readDelays(&sps.VUI.NalHRD)
	}
	if sps.VUIPresent && sps.VUI.VclHRDPresent {
		bp.VclInitialCpbRemovalDelay, bp.VclInitialCpbRemovalDelayOffset = readDelays(&sps.VUI.VclHRD)
	}
	if err := r.Err("buffering_period"); err != nil {
		return nil, err
	}
	return bp, nil
}

// parsePicTiming interprets a stored pic_timing payload with the SPS of the
// picture it belongs to.
func parsePicTiming(payload []byte, sps *SequenceParameterSet) (*PicTiming, error) {
	r := newSyntaxReader(bitstream.NewBitReader(payload))
	pt := &PicTiming{}

	if sps.CpbDpbDelaysPresent() {
		h := sps.hrd()
		pt.DelaysPresent = true
		pt.CpbRemovalDelay = r.u(int(h.CpbRemovalDelayLengthMinus1)+1, "cpb_removal_delay")
		pt.DpbOutputDelay = r.u(int(h.DpbOutputDelayLengthMinus1)+1, "dpb_output_delay")
	}

	if sps.VUIPresent && sps.VUI.PicStructPresent {
		pt.PicStructPresent = true
		pt.PicStruct = uint8(r.u(4, "pic_struct"))
		if r.err == nil && int(pt.PicStruct) >= len(numClockTS) {
			return nil, errors.NewHeaderSyntaxError("pic_struct %d reserved", pt.PicStruct)
		}
		offsetBits := 24
		if sps.CpbDpbDelaysPresent() {
			offsetBits = int(sps.hrd().TimeOffsetLength)
		}
		for i := 0; r.err == nil && i < numClockTS[pt.PicStruct]; i++ {
			if !r.flag("clock_timestamp_flag") {
				continue
			}
			pt.Clocks = append(pt.Clocks, readClockTimestamp(r, offsetBits))
		}
	}

	if err := r.Err("pic_timing"); err != nil {
		return nil, err
	}
	return pt, nil
}

func readClockTimestamp(r *syntaxReader, offsetBits int) ClockTimestamp {
	var ct ClockTimestamp
	ct.CtType = uint8(r.u(2, "ct_type"))
	ct.NuitFieldBased = r.flag("nuit_field_based_flag")
	ct.CountingType = uint8(r.u(5, "counting_type"))
	ct.FullTimestamp = r.flag("full_timestamp_flag")
	ct.Discontinuity = r.flag("discontinuity_flag")
	ct.CntDropped = r.flag("cnt_dropped_flag")
	ct.NFrames = uint8(r.u(8, "n_frames"))
	if ct.FullTimestamp {
		ct.Seconds = uint8(r.u(6, "seconds_value"))
		ct.Minutes = uint8(r.u(6, "minutes_value"))
		ct.Hours = uint8(r.u(5, "hours_value"))
	} else if r.flag("seconds_flag") {
		ct.Seconds = uint8(r.u(6, "seconds_value"))
		if r.flag("minutes_flag") {
			ct.Minutes = uint8(r.u(6, "minutes_value"))
			if r.flag("hours_flag") {
				ct.Hours = uint8(r.u(5, "hours_value"))
			}
		}
	}
	if offsetBits > 0 {
		v := r.u(offsetBits, "time_offset")
		// i(v): two's complement of offsetBits width
		if offsetBits < 32 && v&(1<<(offsetBits-1)) != 0 {
			ct.TimeOffset = int32(int64(v) - int64(1)<<offsetBits)
		} else {
			ct.TimeOffset = int32(v)
		}
	}
	return ct
}

func parsePanScanRect(payload []byte) (*PanScanRect, error) {
	r := newSyntaxReader(bitstream.NewBitReader(payload))
	ps := &PanScanRect{}
	ps.ID = r.ue("pan_scan_rect_id")
	ps.Cancel = r.flag("pan_scan_rect_cancel_flag")
	if !ps.Cancel {
		ps.Count = int(r.ueMax(2, "pan_scan_cnt_minus1")) + 1
		for i := 0; i < ps.Count && r.err == nil; i++ {
			ps.LeftOffset[i] = r.se("pan_scan_rect_left_offset")
			ps.RightOffset[i] = r.se("pan_scan_rect_right_offset")
			ps.TopOffset[i] = r.se("pan_scan_rect_top_offset")
			ps.BottomOffset[i] = r.se("pan_scan_rect_bottom_offset")
		}
		ps.RepetitionPeriod = r.ue("pan_scan_rect_repetition_period")
	}
	if err := r.Err("pan_scan_rect"); err != nil {
		return nil, err
	}
	return ps, nil
}

func parseRecoveryPoint(payload []byte) (*RecoveryPoint, error) {
	r := newSyntaxReader(bitstream.NewBitReader(payload))
	rp := &RecoveryPoint{}
	rp.RecoveryFrameCnt = r.ue("recovery_frame_cnt")
	rp.ExactMatch = r.flag("exact_match_flag")
	rp.BrokenLink = r.flag("broken_link_flag")
	rp.ChangingSliceGroupIDC = uint8(r.u(2, "changing_slice_group_idc"))
	if err := r.Err("recovery_point"); err != nil {
		return nil, err
	}
	return rp, nil
}
