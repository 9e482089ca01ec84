// Package testdata builds small synthetic elementary streams for tests:
// H.264 NAL units, MPEG-2 video headers and AVS headers, laid out as the
// collator would deliver them.
package testdata

import (
	"github.com/zsiec/frameparser/internal/bitstream"
)

// H.264 NAL unit types used by the builders
const (
	H264NALSlice     = 1
	H264NALIDR       = 5
	H264NALSEI       = 6
	H264NALSPS       = 7
	H264NALPPS       = 8
	H264NALAUD       = 9
	H264NALEndOfSeq  = 10
	H264NALFiller    = 12
	H264NALPrefixSVC = 14
)

// HRDDelayBits is the width of every HRD delay field written by SPS.
const HRDDelayBits = 24

// ScalingList is one scaling_list() entry. A nil *ScalingList is absent.
type ScalingList struct {
	UseDefault bool
	Values     []uint8
}

// SPS describes a sequence parameter set.
type SPS struct {
	ProfileIDC uint8
	LevelIDC   uint8
	ID         uint32

	// High profile only.
	Scaling []*ScalingList

	Log2MaxFrameNum       uint32
	PicOrderCntType       uint32
	Log2MaxPicOrderCntLsb uint32

	DeltaPicOrderAlwaysZero   bool
	OffsetForNonRefPic        int32
	OffsetForTopToBottomField int32
	OffsetForRefFrame         []int32

	NumRefFrames   uint32
	GapsAllowed    bool
	WidthInMbs     uint32
	HeightInMbs    uint32
	FrameMbsOnly   bool
	CropBottom     uint32
	Direct8x8      bool
	TimeScale      uint32
	NumUnitsInTick uint32

	NalHRD           bool
	PicStructPresent bool

	BitstreamRestriction bool
	MaxNumReorderFrames  uint32
	MaxDecFrameBuffering uint32
}

// DefaultSPS is a 1280x720 main profile, POC type 0 sequence with four
// reference frames.
func DefaultSPS() SPS {
	return SPS{
		ProfileIDC:            77,
		LevelIDC:              31,
		Log2MaxFrameNum:       8,
		PicOrderCntType:       0,
		Log2MaxPicOrderCntLsb: 8,
		NumRefFrames:          4,
		WidthInMbs:            80,
		HeightInMbs:           45,
		FrameMbsOnly:          true,
		Direct8x8:             true,
	}
}

func isHighProfile(p uint8) bool {
	switch p {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

func writeScalingLists(w *bitstream.BitWriter, lists []*ScalingList, count int) {
	for i := 0; i < count; i++ {
		var l *ScalingList
		if i < len(lists) {
			l = lists[i]
		}
		w.WriteFlag(l != nil)
		if l == nil {
			continue
		}
		if l.UseDefault {
			w.WriteSE(-8)
			continue
		}
		last := int32(8)
		for _, v := range l.Values {
			delta := int32(v) - last
			if delta > 127 {
				delta -= 256
			} else if delta < -128 {
				delta += 256
			}
			w.WriteSE(delta)
			last = int32(v)
		}
	}
}

func writeHRD(w *bitstream.BitWriter) {
	w.WriteUE(0)    // cpb_cnt_minus1
	w.WriteBits(0, 4)
	w.WriteBits(0, 4)
	w.WriteUE(1000) // bit_rate_value_minus1
	w.WriteUE(1000) // cpb_size_value_minus1
	w.WriteFlag(false)
	w.WriteBits(HRDDelayBits-1, 5)
	w.WriteBits(HRDDelayBits-1, 5)
	w.WriteBits(HRDDelayBits-1, 5)
	w.WriteBits(HRDDelayBits, 5)
}

// Encode returns the NAL unit, header byte included.
func (s SPS) Encode() []byte {
	w := bitstream.NewBitWriter()
	w.WriteBits(uint32(s.ProfileIDC), 8)
	w.WriteBits(0, 8)
	w.WriteBits(uint32(s.LevelIDC), 8)
	w.WriteUE(s.ID)
	if isHighProfile(s.ProfileIDC) {
		w.WriteUE(1) // chroma_format_idc
		w.WriteUE(0)
		w.WriteUE(0)
		w.WriteFlag(false)
		w.WriteFlag(s.Scaling != nil)
		if s.Scaling != nil {
			writeScalingLists(w, s.Scaling, 8)
		}
	}
	w.WriteUE(s.Log2MaxFrameNum - 4)
	w.WriteUE(s.PicOrderCntType)
	switch s.PicOrderCntType {
	case 0:
		w.WriteUE(s.Log2MaxPicOrderCntLsb - 4)
	case 1:
		w.WriteFlag(s.DeltaPicOrderAlwaysZero)
		w.WriteSE(s.OffsetForNonRefPic)
		w.WriteSE(s.OffsetForTopToBottomField)
		w.WriteUE(uint32(len(s.OffsetForRefFrame)))
		for _, o := range s.OffsetForRefFrame {
			w.WriteSE(o)
		}
	}
	w.WriteUE(s.NumRefFrames)
	w.WriteFlag(s.GapsAllowed)
	w.WriteUE(s.WidthInMbs - 1)
	if s.FrameMbsOnly {
		w.WriteUE(s.HeightInMbs - 1)
	} else {
		w.WriteUE(s.HeightInMbs/2 - 1)
	}
	w.WriteFlag(s.FrameMbsOnly)
	if !s.FrameMbsOnly {
		w.WriteFlag(false)
	}
	w.WriteFlag(s.Direct8x8)
	w.WriteFlag(s.CropBottom != 0)
	if s.CropBottom != 0 {
		w.WriteUE(0)
		w.WriteUE(0)
		w.WriteUE(0)
		w.WriteUE(s.CropBottom)
	}

	vui := s.TimeScale != 0 || s.NalHRD || s.PicStructPresent || s.BitstreamRestriction
	w.WriteFlag(vui)
	if vui {
		w.WriteFlag(false) // aspect_ratio_info_present_flag
		w.WriteFlag(false)
		w.WriteFlag(false)
		w.WriteFlag(false)
		w.WriteFlag(s.TimeScale != 0)
		if s.TimeScale != 0 {
			w.WriteBits(s.NumUnitsInTick, 32)
			w.WriteBits(s.TimeScale, 32)
			w.WriteFlag(true)
		}
		w.WriteFlag(s.NalHRD)
		if s.NalHRD {
			writeHRD(w)
		}
		w.WriteFlag(false) // vcl_hrd_parameters_present_flag
		if s.NalHRD {
			w.WriteFlag(false)
		}
		w.WriteFlag(s.PicStructPresent)
		w.WriteFlag(s.BitstreamRestriction)
		if s.BitstreamRestriction {
			w.WriteFlag(true)
			w.WriteUE(0)
			w.WriteUE(0)
			w.WriteUE(16)
			w.WriteUE(16)
			w.WriteUE(s.MaxNumReorderFrames)
			w.WriteUE(s.MaxDecFrameBuffering)
		}
	}
	w.WriteTrailingBits()
	return nal(3, H264NALSPS, w.Bytes())
}

// PPS describes a picture parameter set.
type PPS struct {
	ID    uint32
	SPSID uint32

	EntropyCoding                     bool
	BottomFieldPicOrderInFramePresent bool
	NumRefIdxL0Active                 uint32
	NumRefIdxL1Active                 uint32
	WeightedPred                      bool
	WeightedBipredIDC                 uint32
	DeblockingFilterControlPresent    bool
	RedundantPicCntPresent            bool

	Transform8x8 bool
	// Scaling writes pic_scaling_matrix_present_flag when non-nil.
	Scaling []*ScalingList
}

// DefaultPPS is a CAVLC PPS for SPS 0 with one active reference per list.
func DefaultPPS() PPS {
	return PPS{NumRefIdxL0Active: 1, NumRefIdxL1Active: 1}
}

// Encode returns the NAL unit, header byte included.
func (p PPS) Encode() []byte {
	w := bitstream.NewBitWriter()
	w.WriteUE(p.ID)
	w.WriteUE(p.SPSID)
	w.WriteFlag(p.EntropyCoding)
	w.WriteFlag(p.BottomFieldPicOrderInFramePresent)
	w.WriteUE(0) // num_slice_groups_minus1
	w.WriteUE(active(p.NumRefIdxL0Active) - 1)
	w.WriteUE(active(p.NumRefIdxL1Active) - 1)
	w.WriteFlag(p.WeightedPred)
	w.WriteBits(p.WeightedBipredIDC, 2)
	w.WriteSE(0)
	w.WriteSE(0)
	w.WriteSE(0)
	w.WriteFlag(p.DeblockingFilterControlPresent)
	w.WriteFlag(false)
	w.WriteFlag(p.RedundantPicCntPresent)
	if p.Transform8x8 || p.Scaling != nil {
		w.WriteFlag(p.Transform8x8)
		w.WriteFlag(p.Scaling != nil)
		if p.Scaling != nil {
			count := 6
			if p.Transform8x8 {
				count += 2
			}
			writeScalingLists(w, p.Scaling, count)
		}
		w.WriteSE(0)
	}
	w.WriteTrailingBits()
	return nal(3, H264NALPPS, w.Bytes())
}

func active(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

// Modification is one ref_pic_list_modification operation.
type Modification struct {
	Idc   uint32
	Value uint32
}

// MMCO is one memory_management_control_operation.
type MMCO struct {
	Op                        uint32
	DifferenceOfPicNumsMinus1 uint32
	LongTermPicNum            uint32
	LongTermFrameIdx          uint32
	MaxLongTermFrameIdxPlus1  uint32
}

// Slice types as coded in slice_type.
const (
	SliceP = 0
	SliceB = 1
	SliceI = 2
)

// Slice describes a slice header followed by filler slice data.
type Slice struct {
	NalRefIdc uint8
	IDR       bool
	FirstMb   uint32
	Type      uint32
	PPSID     uint32

	FrameNum    uint32
	FieldPic    bool
	BottomField bool
	IDRPicID    uint32

	PicOrderCntLsb         uint32
	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt       [2]int32

	OverrideActive    bool
	NumRefIdxL0Active uint32
	NumRefIdxL1Active uint32

	ModificationL0 []Modification
	ModificationL1 []Modification

	NoOutputOfPriorPics bool
	LongTermReference   bool
	Adaptive            bool
	MMCOs               []MMCO

	// Data is appended after the header as slice data.
	Data []byte
}

func writeModifications(w *bitstream.BitWriter, ops []Modification) {
	w.WriteFlag(len(ops) > 0)
	if len(ops) == 0 {
		return
	}
	for _, op := range ops {
		w.WriteUE(op.Idc)
		w.WriteUE(op.Value)
	}
	w.WriteUE(3)
}

// Encode returns the slice NAL unit for the given parameter sets.
func (s Slice) Encode(sps SPS, pps PPS) []byte {
	w := bitstream.NewBitWriter()
	w.WriteUE(s.FirstMb)
	w.WriteUE(s.Type)
	w.WriteUE(s.PPSID)
	w.WriteBits(s.FrameNum, int(sps.Log2MaxFrameNum))
	if !sps.FrameMbsOnly {
		w.WriteFlag(s.FieldPic)
		if s.FieldPic {
			w.WriteFlag(s.BottomField)
		}
	}
	if s.IDR {
		w.WriteUE(s.IDRPicID)
	}
	if sps.PicOrderCntType == 0 {
		w.WriteBits(s.PicOrderCntLsb, int(sps.Log2MaxPicOrderCntLsb))
		if pps.BottomFieldPicOrderInFramePresent && !s.FieldPic {
			w.WriteSE(s.DeltaPicOrderCntBottom)
		}
	}
	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZero {
		w.WriteSE(s.DeltaPicOrderCnt[0])
		if pps.BottomFieldPicOrderInFramePresent && !s.FieldPic {
			w.WriteSE(s.DeltaPicOrderCnt[1])
		}
	}
	if pps.RedundantPicCntPresent {
		w.WriteUE(0)
	}

	kind := s.Type % 5
	if kind == SliceB {
		w.WriteFlag(true) // direct_spatial_mv_pred_flag
	}
	l0, l1 := active(pps.NumRefIdxL0Active), active(pps.NumRefIdxL1Active)
	if kind == SliceP || kind == SliceB || kind == 3 {
		w.WriteFlag(s.OverrideActive)
		if s.OverrideActive {
			l0 = active(s.NumRefIdxL0Active)
			w.WriteUE(l0 - 1)
			if kind == SliceB {
				l1 = active(s.NumRefIdxL1Active)
				w.WriteUE(l1 - 1)
			}
		}
	}
	if kind != SliceI && kind != 4 {
		writeModifications(w, s.ModificationL0)
		if kind == SliceB {
			writeModifications(w, s.ModificationL1)
		}
	}
	if (pps.WeightedPred && (kind == SliceP || kind == 3)) || (pps.WeightedBipredIDC == 1 && kind == SliceB) {
		w.WriteUE(0) // luma_log2_weight_denom
		w.WriteUE(0)
		for i := uint32(0); i < l0; i++ {
			w.WriteFlag(false)
			w.WriteFlag(false)
		}
		if kind == SliceB {
			for i := uint32(0); i < l1; i++ {
				w.WriteFlag(false)
				w.WriteFlag(false)
			}
		}
	}
	if s.NalRefIdc != 0 {
		if s.IDR {
			w.WriteFlag(s.NoOutputOfPriorPics)
			w.WriteFlag(s.LongTermReference)
		} else {
			adaptive := s.Adaptive || len(s.MMCOs) > 0
			w.WriteFlag(adaptive)
			if adaptive {
				for _, op := range s.MMCOs {
					w.WriteUE(op.Op)
					switch op.Op {
					case 1:
						w.WriteUE(op.DifferenceOfPicNumsMinus1)
					case 2:
						w.WriteUE(op.LongTermPicNum)
					case 3:
						w.WriteUE(op.DifferenceOfPicNumsMinus1)
						w.WriteUE(op.LongTermFrameIdx)
					case 4:
						w.WriteUE(op.MaxLongTermFrameIdxPlus1)
					case 6:
						w.WriteUE(op.LongTermFrameIdx)
					}
				}
				w.WriteUE(0)
			}
		}
	}
	if pps.EntropyCoding && kind != SliceI && kind != 4 {
		w.WriteUE(0)
	}
	w.WriteSE(0) // slice_qp_delta
	if pps.DeblockingFilterControlPresent {
		w.WriteUE(1)
	}
	w.WriteTrailingBits()

	data := s.Data
	if data == nil {
		data = []byte{0xA5, 0x5A, 0xC3}
	}
	unitType := uint8(H264NALSlice)
	if s.IDR {
		unitType = H264NALIDR
	}
	return nal(s.NalRefIdc, unitType, append(w.Bytes(), data...))
}

// SEIMessage is one sei_message().
type SEIMessage struct {
	Type    int
	Payload []byte
}

// SEI returns an SEI NAL unit carrying msgs.
func SEI(msgs ...SEIMessage) []byte {
	var rbsp []byte
	for _, m := range msgs {
		rbsp = appendSEIValue(rbsp, m.Type)
		rbsp = appendSEIValue(rbsp, len(m.Payload))
		rbsp = append(rbsp, m.Payload...)
	}
	rbsp = append(rbsp, 0x80)
	return nal(0, H264NALSEI, rbsp)
}

func appendSEIValue(b []byte, v int) []byte {
	for v >= 0xFF {
		b = append(b, 0xFF)
		v -= 0xFF
	}
	return append(b, byte(v))
}

// RecoveryPoint returns a recovery_point() message.
func RecoveryPoint(frameCnt uint32) SEIMessage {
	w := bitstream.NewBitWriter()
	w.WriteUE(frameCnt)
	w.WriteFlag(true)
	w.WriteFlag(false)
	w.WriteBits(0, 2)
	w.WriteTrailingBits()
	return SEIMessage{Type: 6, Payload: w.Bytes()}
}

// PicTiming describes a pic_timing() message for an SPS built with NalHRD
// and, when PicStruct is non-negative, PicStructPresent.
type PicTiming struct {
	CpbRemovalDelay uint32
	DpbOutputDelay  uint32
	PicStruct       int
}

// Message encodes the pic_timing() payload. Clock timestamps are absent.
func (p PicTiming) Message(sps SPS) SEIMessage {
	w := bitstream.NewBitWriter()
	if sps.NalHRD {
		w.WriteBits(p.CpbRemovalDelay, HRDDelayBits)
		w.WriteBits(p.DpbOutputDelay, HRDDelayBits)
	}
	if sps.PicStructPresent {
		w.WriteBits(uint32(p.PicStruct), 4)
		for i := 0; i < numClockTS(p.PicStruct); i++ {
			w.WriteFlag(false)
		}
	}
	w.WriteTrailingBits()
	return SEIMessage{Type: 1, Payload: w.Bytes()}
}

func numClockTS(picStruct int) int {
	switch picStruct {
	case 3, 4, 7:
		return 2
	case 5, 6, 8:
		return 3
	default:
		return 1
	}
}

// BufferingPeriod returns a buffering_period() message for an SPS built
// with NalHRD.
func BufferingPeriod(spsID uint32, initialDelay uint32) SEIMessage {
	w := bitstream.NewBitWriter()
	w.WriteUE(spsID)
	w.WriteBits(initialDelay, HRDDelayBits)
	w.WriteBits(0, HRDDelayBits)
	w.WriteTrailingBits()
	return SEIMessage{Type: 0, Payload: w.Bytes()}
}

// AUD returns an access unit delimiter.
func AUD() []byte {
	return []byte{H264NALAUD, 0xF0}
}

// EndOfSequence returns an end of sequence NAL unit.
func EndOfSequence() []byte {
	return []byte{H264NALEndOfSeq}
}

// RawNAL returns a NAL unit of any type with an opaque payload.
func RawNAL(refIdc, unitType uint8, payload []byte) []byte {
	return nal(refIdc, unitType, payload)
}

func nal(refIdc, unitType uint8, rbsp []byte) []byte {
	out := []byte{refIdc<<5 | unitType}
	return append(out, bitstream.AddEmulationPrevention(rbsp)...)
}

// AccessUnit joins units with four-byte start codes and returns the data
// and the offset of each unit's first byte.
func AccessUnit(units ...[]byte) ([]byte, []int) {
	var data []byte
	starts := make([]int, 0, len(units))
	for _, u := range units {
		data = append(data, 0, 0, 0, 1)
		starts = append(starts, len(data))
		data = append(data, u...)
	}
	return data, starts
}

// Stream concatenates access units into one Annex B byte stream.
func Stream(units ...[]byte) []byte {
	data, _ := AccessUnit(units...)
	return data
}
