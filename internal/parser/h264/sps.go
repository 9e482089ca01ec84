package h264

import (
	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/timestamp"
)

const (
	// MaxSPSCount is the number of seq_parameter_set_id values.
	MaxSPSCount = 32
	// MaxPPSCount is the number of pic_parameter_set_id values.
	MaxPPSCount = 256
	// MaxReferenceFrames bounds num_ref_frames.
	MaxReferenceFrames = 16

	maxRefFramesInPicOrderCntCycle = 255
	maxSliceGroups                 = 8
	maxCpbCount                    = 32
)

// HRDParameters is hrd_parameters() (E.1.2).
type HRDParameters struct {
	CpbCount                       uint32
	BitRateScale                   uint8
	CpbSizeScale                   uint8
	BitRateValueMinus1             []uint32
	CpbSizeValueMinus1             []uint32
	CbrFlag                        []bool
	InitialCpbRemovalDelayLengthM1 uint8
	CpbRemovalDelayLengthMinus1    uint8
	DpbOutputDelayLengthMinus1     uint8
	TimeOffsetLength               uint8
}

// VUIParameters is vui_parameters() (E.1.1).
type VUIParameters struct {
	AspectRatioInfoPresent bool
	AspectRatioIDC         uint8
	SarWidth               uint16
	SarHeight              uint16

	OverscanInfoPresent bool
	OverscanAppropriate bool

	VideoSignalTypePresent   bool
	VideoFormat              uint8
	VideoFullRange           bool
	ColourDescriptionPresent bool
	ColourPrimaries          uint8
	TransferCharacteristics  uint8
	MatrixCoefficients       uint8

	ChromaLocInfoPresent       bool
	ChromaSampleLocTopField    uint32
	ChromaSampleLocBottomField uint32

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	NalHRDPresent bool
	NalHRD        HRDParameters
	VclHRDPresent bool
	VclHRD        HRDParameters
	LowDelayHRD   bool

	PicStructPresent bool

	BitstreamRestriction       bool
	MotionVectorsOverPicBounds bool
	MaxBytesPerPicDenom        uint32
	MaxBitsPerMbDenom          uint32
	Log2MaxMvLengthHorizontal  uint32
	Log2MaxMvLengthVertical    uint32
	MaxNumReorderFrames        uint32
	MaxDecFrameBuffering       uint32
}

// SequenceParameterSet is seq_parameter_set_data() (7.3.2.1.1).
type SequenceParameterSet struct {
	ProfileIDC      uint8
	ConstraintFlags uint8
	LevelIDC        uint8
	ID              uint32

	ChromaFormatIDC             uint32
	SeparateColourPlane         bool
	BitDepthLumaMinus8          uint32
	BitDepthChromaMinus8        uint32
	QpprimeYZeroTransformBypass bool

	ScalingMatrixPresent bool
	scalingSyntax        scalingMatrixSyntax
	// Scaling is the resolved sequence-level matrix.
	Scaling ScalingMatrix

	Log2MaxFrameNum uint32

	PicOrderCntType           uint32
	Log2MaxPicOrderCntLsb     uint32
	DeltaPicOrderAlwaysZero   bool
	OffsetForNonRefPic        int32
	OffsetForTopToBottomField int32
	OffsetForRefFrame         []int32

	NumRefFrames              uint32
	GapsInFrameNumAllowed     bool
	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnly              bool
	MbAdaptiveFrameField      bool
	Direct8x8Inference        bool

	FrameCropping   bool
	FrameCropLeft   uint32
	FrameCropRight  uint32
	FrameCropTop    uint32
	FrameCropBottom uint32

	VUIPresent bool
	VUI        VUIParameters
}

var highProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// parseSPS parses the RBSP of an SPS NAL unit, header byte excluded.
func parseSPS(rbsp []byte) (*SequenceParameterSet, error) {
	r := newSyntaxReader(bitstream.NewBitReader(rbsp))
	sps := &SequenceParameterSet{ChromaFormatIDC: 1}

	sps.ProfileIDC = uint8(r.u(8, "profile_idc"))
	sps.ConstraintFlags = uint8(r.u(8, "constraint_flags"))
	sps.LevelIDC = uint8(r.u(8, "level_idc"))
	sps.ID = r.ue("seq_parameter_set_id")
	if err := r.Err("sps"); err != nil {
		return nil, err
	}
	if sps.ID >= MaxSPSCount {
		return nil, errors.NewStreamSyntaxError("seq_parameter_set_id %d out of range", sps.ID)
	}

	if highProfiles[sps.ProfileIDC] {
		sps.ChromaFormatIDC = r.ueMax(3, "chroma_format_idc")
		if sps.ChromaFormatIDC == 3 {
			sps.SeparateColourPlane = r.flag("separate_colour_plane_flag")
		}
		sps.BitDepthLumaMinus8 = r.ueMax(6, "bit_depth_luma_minus8")
		sps.BitDepthChromaMinus8 = r.ueMax(6, "bit_depth_chroma_minus8")
		sps.QpprimeYZeroTransformBypass = r.flag("qpprime_y_zero_transform_bypass_flag")
		sps.ScalingMatrixPresent = r.flag("seq_scaling_matrix_present_flag")
		if sps.ScalingMatrixPresent {
			count := 8
			if sps.ChromaFormatIDC == 3 {
				count = 12
			}
			sps.scalingSyntax = readScalingMatrix(r, count)
		}
	}
	if sps.ScalingMatrixPresent {
		sps.Scaling = sps.scalingSyntax.resolve(nil)
	} else {
		sps.Scaling = flatScalingMatrix()
	}

	sps.Log2MaxFrameNum = r.ueMax(12, "log2_max_frame_num_minus4") + 4
	sps.PicOrderCntType = r.ueMax(2, "pic_order_cnt_type")
	switch sps.PicOrderCntType {
	case 0:
		sps.Log2MaxPicOrderCntLsb = r.ueMax(12, "log2_max_pic_order_cnt_lsb_minus4") + 4
	case 1:
		sps.DeltaPicOrderAlwaysZero = r.flag("delta_pic_order_always_zero_flag")
		sps.OffsetForNonRefPic = r.se("offset_for_non_ref_pic")
		sps.OffsetForTopToBottomField = r.se("offset_for_top_to_bottom_field")
		n := r.ue("num_ref_frames_in_pic_order_cnt_cycle")
		if r.err == nil && n > maxRefFramesInPicOrderCntCycle {
			return nil, errors.NewStreamSyntaxError("num_ref_frames_in_pic_order_cnt_cycle %d out of range", n)
		}
		sps.OffsetForRefFrame = make([]int32, n)
		for i := range sps.OffsetForRefFrame {
			sps.OffsetForRefFrame[i] = r.se("offset_for_ref_frame")
		}
	}

	sps.NumRefFrames = r.ue("max_num_ref_frames")
	if r.err == nil && sps.NumRefFrames > MaxReferenceFrames {
		return nil, errors.NewStreamSyntaxError("max_num_ref_frames %d out of range", sps.NumRefFrames)
	}
	sps.GapsInFrameNumAllowed = r.flag("gaps_in_frame_num_value_allowed_flag")
	sps.PicWidthInMbsMinus1 = r.ueMax(1023, "pic_width_in_mbs_minus1")
	sps.PicHeightInMapUnitsMinus1 = r.ueMax(1023, "pic_height_in_map_units_minus1")
	sps.FrameMbsOnly = r.flag("frame_mbs_only_flag")
	if !sps.FrameMbsOnly {
		sps.MbAdaptiveFrameField = r.flag("mb_adaptive_frame_field_flag")
	}
	sps.Direct8x8Inference = r.flag("direct_8x8_inference_flag")
	sps.FrameCropping = r.flag("frame_cropping_flag")
	if sps.FrameCropping {
		sps.FrameCropLeft = r.ue("frame_crop_left_offset")
		sps.FrameCropRight = r.ue("frame_crop_right_offset")
		sps.FrameCropTop = r.ue("frame_crop_top_offset")
		sps.FrameCropBottom = r.ue("frame_crop_bottom_offset")
	}
	sps.VUIPresent = r.flag("vui_parameters_present_flag")
	if sps.VUIPresent {
		readVUI(r, &sps.VUI)
	}

	if err := r.Err("sps"); err != nil {
		return nil, err
	}
	return sps, nil
}

func readVUI(r *syntaxReader, v *VUIParameters) {
	v.AspectRatioInfoPresent = r.flag("aspect_ratio_info_present_flag")
	if v.AspectRatioInfoPresent {
		v.AspectRatioIDC = uint8(r.u(8, "aspect_ratio_idc"))
		if v.AspectRatioIDC == 255 {
			v.SarWidth = uint16(r.u(16, "sar_width"))
			v.SarHeight = uint16(r.u(16, "sar_height"))
		}
	}
	v.OverscanInfoPresent = r.flag("overscan_info_present_flag")
	if v.OverscanInfoPresent {
		v.OverscanAppropriate = r.flag("overscan_appropriate_flag")
	}
	v.VideoSignalTypePresent = r.flag("video_signal_type_present_flag")
	if v.VideoSignalTypePresent {
		v.VideoFormat = uint8(r.u(3, "video_format"))
		v.VideoFullRange = r.flag("video_full_range_flag")
		v.ColourDescriptionPresent = r.flag("colour_description_present_flag")
		if v.ColourDescriptionPresent {
			v.ColourPrimaries = uint8(r.u(8, "colour_primaries"))
			v.TransferCharacteristics = uint8(r.u(8, "transfer_characteristics"))
			v.MatrixCoefficients = uint8(r.u(8, "matrix_coefficients"))
		}
	}
	v.ChromaLocInfoPresent = r.flag("chroma_loc_info_present_flag")
	if v.ChromaLocInfoPresent {
		v.ChromaSampleLocTopField = r.ue("chroma_sample_loc_type_top_field")
		v.ChromaSampleLocBottomField = r.ue("chroma_sample_loc_type_bottom_field")
	}
	v.TimingInfoPresent = r.flag("timing_info_present_flag")
	if v.TimingInfoPresent {
		v.NumUnitsInTick = r.u(32, "num_units_in_tick")
		v.TimeScale = r.u(32, "time_scale")
		v.FixedFrameRate = r.flag("fixed_frame_rate_flag")
	}
	v.NalHRDPresent = r.flag("nal_hrd_parameters_present_flag")
	if v.NalHRDPresent {
		readHRD(r, &v.NalHRD)
	}
	v.VclHRDPresent = r.flag("vcl_hrd_parameters_present_flag")
	if v.VclHRDPresent {
		readHRD(r, &v.VclHRD)
	}
	if v.NalHRDPresent || v.VclHRDPresent {
		v.LowDelayHRD = r.flag("low_delay_hrd_flag")
	}
	v.PicStructPresent = r.flag("pic_struct_present_flag")
	v.BitstreamRestriction = r.flag("bitstream_restriction_flag")
	if v.BitstreamRestriction {
		v.MotionVectorsOverPicBounds = r.flag("motion_vectors_over_pic_boundaries_flag")
		v.MaxBytesPerPicDenom = r.ue("max_bytes_per_pic_denom")
		v.MaxBitsPerMbDenom = r.ue("max_bits_per_mb_denom")
		v.Log2MaxMvLengthHorizontal = r.ue("log2_max_mv_length_horizontal")
		v.Log2MaxMvLengthVertical = r.ue("log2_max_mv_length_vertical")
		v.MaxNumReorderFrames = r.ueMax(MaxReferenceFrames, "max_num_reorder_frames")
		v.MaxDecFrameBuffering = r.ueMax(MaxReferenceFrames, "max_dec_frame_buffering")
	}
}

func readHRD(r *syntaxReader, h *HRDParameters) {
	h.CpbCount = r.ueMax(maxCpbCount-1, "cpb_cnt_minus1") + 1
	h.BitRateScale = uint8(r.u(4, "bit_rate_scale"))
	h.CpbSizeScale = uint8(r.u(4, "cpb_size_scale"))
	if r.err != nil {
		return
	}
	h.BitRateValueMinus1 = make([]uint32, h.CpbCount)
	h.CpbSizeValueMinus1 = make([]uint32, h.CpbCount)
	h.CbrFlag = make([]bool, h.CpbCount)
	for i := uint32(0); i < h.CpbCount; i++ {
		h.BitRateValueMinus1[i] = r.ue("bit_rate_value_minus1")
		h.CpbSizeValueMinus1[i] = r.ue("cpb_size_value_minus1")
		h.CbrFlag[i] = r.flag("cbr_flag")
	}
	h.InitialCpbRemovalDelayLengthM1 = uint8(r.u(5, "initial_cpb_removal_delay_length_minus1"))
	h.CpbRemovalDelayLengthMinus1 = uint8(r.u(5, "cpb_removal_delay_length_minus1"))
	h.DpbOutputDelayLengthMinus1 = uint8(r.u(5, "dpb_output_delay_length_minus1"))
	h.TimeOffsetLength = uint8(r.u(5, "time_offset_length"))
}

// MaxFrameNum is 2^log2_max_frame_num.
func (s *SequenceParameterSet) MaxFrameNum() uint32 {
	return 1 << s.Log2MaxFrameNum
}

// MaxPicOrderCntLsb is 2^log2_max_pic_order_cnt_lsb.
func (s *SequenceParameterSet) MaxPicOrderCntLsb() int32 {
	return 1 << s.Log2MaxPicOrderCntLsb
}

// ChromaArrayType is 0 for separately coded planes, else chroma_format_idc.
func (s *SequenceParameterSet) ChromaArrayType() uint32 {
	if s.SeparateColourPlane {
		return 0
	}
	return s.ChromaFormatIDC
}

// PicWidthInMbs is the coded width in macroblocks.
func (s *SequenceParameterSet) PicWidthInMbs() uint32 {
	return s.PicWidthInMbsMinus1 + 1
}

// FrameHeightInMbs is the coded frame height in macroblocks.
func (s *SequenceParameterSet) FrameHeightInMbs() uint32 {
	h := s.PicHeightInMapUnitsMinus1 + 1
	if !s.FrameMbsOnly {
		h *= 2
	}
	return h
}

// PicSizeInMapUnits is the slice group map size.
func (s *SequenceParameterSet) PicSizeInMapUnits() uint32 {
	return s.PicWidthInMbs() * (s.PicHeightInMapUnitsMinus1 + 1)
}

func (s *SequenceParameterSet) cropUnits() (int, int) {
	frameFactor := 2
	if s.FrameMbsOnly {
		frameFactor = 1
	}
	switch s.ChromaArrayType() {
	case 0:
		return 1, frameFactor
	case 1:
		return 2, 2 * frameFactor
	case 2:
		return 2, frameFactor
	default:
		return 1, frameFactor
	}
}

// Width is the displayed width in luma samples after cropping.
func (s *SequenceParameterSet) Width() int {
	w := int(s.PicWidthInMbs()) * 16
	if s.FrameCropping {
		x, _ := s.cropUnits()
		w -= x * int(s.FrameCropLeft+s.FrameCropRight)
	}
	return w
}

// Height is the displayed frame height in luma samples after cropping.
func (s *SequenceParameterSet) Height() int {
	h := int(s.FrameHeightInMbs()) * 16
	if s.FrameCropping {
		_, y := s.cropUnits()
		h -= y * int(s.FrameCropTop+s.FrameCropBottom)
	}
	return h
}

// FrameRate is the rate signalled in the VUI timing info, or zero.
func (s *SequenceParameterSet) FrameRate() timestamp.Rational {
	v := &s.VUI
	if !s.VUIPresent || !v.TimingInfoPresent || v.NumUnitsInTick == 0 || v.TimeScale == 0 {
		return timestamp.Rational{}
	}
	return timestamp.NewRational(int64(v.TimeScale), 2*int64(v.NumUnitsInTick))
}

// CpbDpbDelaysPresent reports whether pic_timing carries removal and output
// delays.
func (s *SequenceParameterSet) CpbDpbDelaysPresent() bool {
	return s.VUIPresent && (s.VUI.NalHRDPresent || s.VUI.VclHRDPresent)
}

// hrd returns the HRD parameters that size pic_timing fields.
func (s *SequenceParameterSet) hrd() *HRDParameters {
	if s.VUI.NalHRDPresent {
		return &s.VUI.NalHRD
	}
	return &s.VUI.VclHRD
}

// maxDpbMbs is MaxDpbMbs of Table A-1 by level_idc.
var maxDpbMbs = map[uint8]uint32{
	9: 396, 10: 396, 11: 900, 12: 2376, 13: 2376,
	20: 2376, 21: 4752, 22: 8100,
	30: 8100, 31: 18000, 32: 20480,
	40: 32768, 41: 32768, 42: 34816,
	50: 110400, 51: 184320, 52: 184320,
	60: 696320, 61: 696320, 62: 696320,
}

// MaxDpbFrames is the DPB size the level allows for this picture size.
func (s *SequenceParameterSet) MaxDpbFrames() int {
	mbs, ok := maxDpbMbs[s.LevelIDC]
	if s.LevelIDC == 11 && s.ConstraintFlags&0x10 != 0 && (s.ProfileIDC == 66 || s.ProfileIDC == 77 || s.ProfileIDC == 88) {
		mbs = 396 // level 1b
	}
	if !ok {
		return MaxReferenceFrames
	}
	n := int(mbs / (s.PicWidthInMbs() * s.FrameHeightInMbs()))
	if n > MaxReferenceFrames {
		n = MaxReferenceFrames
	}
	if n < int(s.NumRefFrames) {
		n = int(s.NumRefFrames)
	}
	return n
}

// ReorderLimit is how many frames may precede a frame in decode order and
// follow it in display order.
func (s *SequenceParameterSet) ReorderLimit() int {
	if s.VUIPresent && s.VUI.BitstreamRestriction {
		return int(s.VUI.MaxNumReorderFrames)
	}
	if s.PicOrderCntType == 2 {
		return 0
	}
	return s.MaxDpbFrames()
}
