package h264

import (
	stderrors "errors"

	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
)

// SliceType is slice_type modulo 5.
type SliceType uint8

const (
	SliceP SliceType = iota
	SliceB
	SliceI
	SliceSP
	SliceSI
)

func (t SliceType) String() string {
	switch t {
	case SliceP:
		return "P"
	case SliceB:
		return "B"
	case SliceI:
		return "I"
	case SliceSP:
		return "SP"
	case SliceSI:
		return "SI"
	default:
		return "?"
	}
}

// IsIntra reports whether the slice uses no inter prediction.
func (t SliceType) IsIntra() bool {
	return t == SliceI || t == SliceSI
}

const (
	maxModificationOps = 32
	maxMMCOOps         = 32
)

// Per-section upper bounds on destuffed bytes. An exp-Golomb element is at
// most 63 bits.
const (
	ensureLeading      = 24
	ensurePictureIDs   = 64
	ensurePerOperation = 24
	ensurePerWeight    = 64
	ensureTail         = 64
)

// ListModification is one ref_pic_list_modification operation.
type ListModification struct {
	Idc                 uint32
	AbsDiffPicNumMinus1 uint32
	LongTermPicNum      uint32
}

// MMCO is one memory_management_control_operation.
type MMCO struct {
	Op                        uint32
	DifferenceOfPicNumsMinus1 uint32
	LongTermPicNum            uint32
	LongTermFrameIdx          uint32
	MaxLongTermFrameIdxPlus1  uint32
}

// PredWeight is the explicit weighting of one reference index.
type PredWeight struct {
	LumaPresent   bool
	LumaWeight    int32
	LumaOffset    int32
	ChromaPresent bool
	ChromaWeight  [2]int32
	ChromaOffset  [2]int32
}

// PredWeightTable is pred_weight_table() (7.3.3.2).
type PredWeightTable struct {
	LumaLog2WeightDenom   uint32
	ChromaLog2WeightDenom uint32
	L0                    []PredWeight
	L1                    []PredWeight
}

// SliceHeader is slice_header() (7.3.3) with the NAL header fields the
// parser needs alongside it.
type SliceHeader struct {
	NalRefIdc   uint8
	NalUnitType NALUnitType
	IDR         bool

	FirstMbInSlice uint32
	SliceType      SliceType
	// SliceTypeAll is set when slice_type >= 5: every slice of the picture
	// has this type.
	SliceTypeAll  bool
	PPSID         uint32
	ColourPlaneID uint8

	FrameNum       uint32
	FieldPic       bool
	BottomField    bool
	IDRPicID       uint32
	PicOrderCntLsb uint32

	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt       [2]int32
	RedundantPicCnt        uint32
	DirectSpatialMvPred    bool

	NumRefIdxActiveOverride bool
	NumRefIdxL0Active       uint32
	NumRefIdxL1Active       uint32

	ModificationL0 []ListModification
	ModificationL1 []ListModification

	PredWeights *PredWeightTable

	NoOutputOfPriorPics   bool
	LongTermReference     bool
	AdaptiveRefPicMarking bool
	MMCOs                 []MMCO

	CabacInitIDC               uint32
	SliceQPDelta               int32
	SPForSwitch                bool
	SliceQSDelta               int32
	DisableDeblockingFilterIDC uint32
	SliceAlphaC0OffsetDiv2     int32
	SliceBetaOffsetDiv2        int32
	SliceGroupChangeCycle      uint32

	// HeaderBits is the size of the header in destuffed bits.
	HeaderBits int
}

// Structure returns the picture structure the slice codes.
func (h *SliceHeader) Structure() parser.PictureStructure {
	switch {
	case !h.FieldPic:
		return parser.StructureFrame
	case h.BottomField:
		return parser.StructureBottomField
	default:
		return parser.StructureTopField
	}
}

// MaxPicNum is MaxFrameNum for frames and twice that for fields.
func (h *SliceHeader) MaxPicNum(sps *SequenceParameterSet) uint32 {
	if h.FieldPic {
		return 2 * sps.MaxFrameNum()
	}
	return sps.MaxFrameNum()
}

// HasMMCO5 reports whether the slice marks every reference unused.
func (h *SliceHeader) HasMMCO5() bool {
	for _, op := range h.MMCOs {
		if op.Op == 5 {
			return true
		}
	}
	return false
}

// Reference reports whether the slice belongs to a reference picture.
func (h *SliceHeader) Reference() bool {
	return h.NalRefIdc != 0
}

// paramSets resolves the parameter sets a slice refers to.
type paramSets func(ppsID uint32) (*PictureParameterSet, *SequenceParameterSet, error)

// sliceReader reads one slice header through the anti-emulation filter,
// checking the filter after every section.
type sliceReader struct {
	f *bitstream.AntiEmulationFilter
	r *syntaxReader
}

func (s *sliceReader) section(n int) {
	s.f.Ensure(n)
}

func (s *sliceReader) check(what string) error {
	if err := s.f.Verify(); err != nil {
		if stderrors.Is(err, bitstream.ErrFilterOverrun) {
			return errors.NewImplementationError(err, what+": anti-emulation window too small")
		}
		return errors.WrapHeaderSyntaxError(err, what)
	}
	return s.r.Err(what)
}

// parseSliceHeader reads the header of a slice NAL unit, header byte
// included in nal.
func parseSliceHeader(f *bitstream.AntiEmulationFilter, nal []byte, hdr nalHeader, lookup paramSets) (*SliceHeader, *PictureParameterSet, *SequenceParameterSet, error) {
	if len(nal) < 2 {
		return nil, nil, nil, errors.NewHeaderSyntaxError("slice nal unit of %d bytes", len(nal))
	}
	f.Load(nal[1:])
	s := &sliceReader{f: f, r: newSyntaxReader(f.Reader())}
	r := s.r

	sh := &SliceHeader{
		NalRefIdc:   hdr.refIdc,
		NalUnitType: hdr.unitType,
		IDR:         hdr.unitType == NALIDRSlice,
	}

	s.section(ensureLeading)
	sh.FirstMbInSlice = r.ue("first_mb_in_slice")
	sliceType := r.ueMax(9, "slice_type")
	sh.SliceType = SliceType(sliceType % 5)
	sh.SliceTypeAll = sliceType >= 5
	sh.PPSID = r.ueMax(MaxPPSCount-1, "pic_parameter_set_id")
	if err := s.check("slice header"); err != nil {
		return nil, nil, nil, err
	}
	if sh.IDR && !sh.SliceType.IsIntra() {
		return nil, nil, nil, errors.NewHeaderSyntaxError("idr slice of type %s", sh.SliceType)
	}

	pps, sps, err := lookup(sh.PPSID)
	if err != nil {
		return nil, nil, nil, err
	}

	s.section(ensurePictureIDs)
	if sps.SeparateColourPlane {
		sh.ColourPlaneID = uint8(r.u(2, "colour_plane_id"))
	}
	sh.FrameNum = r.u(int(sps.Log2MaxFrameNum), "frame_num")
	if !sps.FrameMbsOnly {
		sh.FieldPic = r.flag("field_pic_flag")
		if sh.FieldPic {
			sh.BottomField = r.flag("bottom_field_flag")
		}
	}
	if sh.IDR {
		sh.IDRPicID = r.ueMax(65535, "idr_pic_id")
	}
	if sps.PicOrderCntType == 0 {
		sh.PicOrderCntLsb = r.u(int(sps.Log2MaxPicOrderCntLsb), "pic_order_cnt_lsb")
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPic {
			sh.DeltaPicOrderCntBottom = r.se("delta_pic_order_cnt_bottom")
		}
	}
	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZero {
		sh.DeltaPicOrderCnt[0] = r.se("delta_pic_order_cnt[0]")
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPic {
			sh.DeltaPicOrderCnt[1] = r.se("delta_pic_order_cnt[1]")
		}
	}
	if pps.RedundantPicCntPresent {
		sh.RedundantPicCnt = r.ueMax(127, "redundant_pic_cnt")
	}
	if sh.SliceType == SliceB {
		sh.DirectSpatialMvPred = r.flag("direct_spatial_mv_pred_flag")
	}
	sh.NumRefIdxL0Active = pps.NumRefIdxL0DefaultActive
	sh.NumRefIdxL1Active = pps.NumRefIdxL1DefaultActive
	if sh.SliceType == SliceP || sh.SliceType == SliceSP || sh.SliceType == SliceB {
		sh.NumRefIdxActiveOverride = r.flag("num_ref_idx_active_override_flag")
		if sh.NumRefIdxActiveOverride {
			max := uint32(31)
			if !sh.FieldPic {
				max = 15
			}
			sh.NumRefIdxL0Active = r.ueMax(max, "num_ref_idx_l0_active_minus1") + 1
			if sh.SliceType == SliceB {
				sh.NumRefIdxL1Active = r.ueMax(max, "num_ref_idx_l1_active_minus1") + 1
			}
		}
	}
	if err := s.check("slice header"); err != nil {
		return nil, nil, nil, err
	}
	if sh.FrameNum >= sps.MaxFrameNum() {
		return nil, nil, nil, errors.NewHeaderSyntaxError("frame_num %d out of range", sh.FrameNum)
	}
	if sh.IDR && sh.FrameNum != 0 {
		return nil, nil, nil, errors.NewHeaderSyntaxError("idr slice with frame_num %d", sh.FrameNum)
	}

	maxPicNum := sh.MaxPicNum(sps)
	if !sh.SliceType.IsIntra() {
		if sh.ModificationL0, err = readListModification(s, "ref_pic_list_modification_l0", maxPicNum); err != nil {
			return nil, nil, nil, err
		}
		if sh.SliceType == SliceB {
			if sh.ModificationL1, err = readListModification(s, "ref_pic_list_modification_l1", maxPicNum); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	if (pps.WeightedPred && (sh.SliceType == SliceP || sh.SliceType == SliceSP)) ||
		(pps.WeightedBipredIDC == 1 && sh.SliceType == SliceB) {
		if sh.PredWeights, err = readPredWeightTable(s, sh, sps); err != nil {
			return nil, nil, nil, err
		}
	}

	if sh.NalRefIdc != 0 {
		if err := readDecRefPicMarking(s, sh, maxPicNum); err != nil {
			return nil, nil, nil, err
		}
	}

	s.section(ensureTail)
	if pps.EntropyCodingMode && !sh.SliceType.IsIntra() {
		sh.CabacInitIDC = r.ueMax(2, "cabac_init_idc")
	}
	sh.SliceQPDelta = r.se("slice_qp_delta")
	if sh.SliceType == SliceSP || sh.SliceType == SliceSI {
		if sh.SliceType == SliceSP {
			sh.SPForSwitch = r.flag("sp_for_switch_flag")
		}
		sh.SliceQSDelta = r.se("slice_qs_delta")
	}
	if pps.DeblockingFilterControlPresent {
		sh.DisableDeblockingFilterIDC = r.ueMax(2, "disable_deblocking_filter_idc")
		if sh.DisableDeblockingFilterIDC != 1 {
			sh.SliceAlphaC0OffsetDiv2 = r.se("slice_alpha_c0_offset_div2")
			sh.SliceBetaOffsetDiv2 = r.se("slice_beta_offset_div2")
		}
	}
	if pps.NumSliceGroups > 1 && pps.SliceGroupMapType >= 3 && pps.SliceGroupMapType <= 5 {
		sh.SliceGroupChangeCycle = r.u(pps.SliceGroupChangeCycleBits(sps), "slice_group_change_cycle")
	}
	if err := s.check("slice header"); err != nil {
		return nil, nil, nil, err
	}

	sh.HeaderBits = f.Reader().BitPosition()
	return sh, pps, sps, nil
}

// readListModification reads one ref_pic_list_modification loop. Picture
// number differences and long-term numbers are bounded by maxPicNum.
func readListModification(s *sliceReader, what string, maxPicNum uint32) ([]ListModification, error) {
	r := s.r
	s.section(1)
	if !r.flag(what + "_flag") {
		return nil, s.check(what)
	}
	var ops []ListModification
	for {
		s.section(ensurePerOperation)
		op := ListModification{Idc: r.ueMax(3, "modification_of_pic_nums_idc")}
		switch op.Idc {
		case 0, 1:
			op.AbsDiffPicNumMinus1 = r.ueMax(maxPicNum-1, "abs_diff_pic_num_minus1")
		case 2:
			op.LongTermPicNum = r.ueMax(maxPicNum-1, "long_term_pic_num")
		}
		if err := s.check(what); err != nil {
			return nil, err
		}
		if op.Idc == 3 {
			return ops, nil
		}
		if len(ops) == maxModificationOps {
			return nil, errors.NewHeaderSyntaxError("%s: more than %d operations", what, maxModificationOps)
		}
		ops = append(ops, op)
	}
}

func readPredWeightTable(s *sliceReader, sh *SliceHeader, sps *SequenceParameterSet) (*PredWeightTable, error) {
	r := s.r
	chroma := sps.ChromaArrayType() != 0

	s.section(2 * 8)
	t := &PredWeightTable{}
	t.LumaLog2WeightDenom = r.ueMax(7, "luma_log2_weight_denom")
	if chroma {
		t.ChromaLog2WeightDenom = r.ueMax(7, "chroma_log2_weight_denom")
	}
	if err := s.check("pred_weight_table"); err != nil {
		return nil, err
	}

	read := func(n uint32) ([]PredWeight, error) {
		out := make([]PredWeight, n)
		for i := range out {
			s.section(ensurePerWeight)
			w := &out[i]
			w.LumaWeight = 1 << t.LumaLog2WeightDenom
			w.ChromaWeight = [2]int32{1 << t.ChromaLog2WeightDenom, 1 << t.ChromaLog2WeightDenom}
			w.LumaPresent = r.flag("luma_weight_flag")
			if w.LumaPresent {
				w.LumaWeight = r.se("luma_weight")
				w.LumaOffset = r.se("luma_offset")
			}
			if chroma {
				w.ChromaPresent = r.flag("chroma_weight_flag")
				if w.ChromaPresent {
					for j := 0; j < 2; j++ {
						w.ChromaWeight[j] = r.se("chroma_weight")
						w.ChromaOffset[j] = r.se("chroma_offset")
					}
				}
			}
			if err := s.check("pred_weight_table"); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var err error
	if t.L0, err = read(sh.NumRefIdxL0Active); err != nil {
		return nil, err
	}
	if sh.SliceType == SliceB {
		if t.L1, err = read(sh.NumRefIdxL1Active); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readDecRefPicMarking(s *sliceReader, sh *SliceHeader, maxPicNum uint32) error {
	r := s.r
	s.section(1)
	if sh.IDR {
		sh.NoOutputOfPriorPics = r.flag("no_output_of_prior_pics_flag")
		sh.LongTermReference = r.flag("long_term_reference_flag")
		return s.check("dec_ref_pic_marking")
	}
	sh.AdaptiveRefPicMarking = r.flag("adaptive_ref_pic_marking_mode_flag")
	if err := s.check("dec_ref_pic_marking"); err != nil {
		return err
	}
	if !sh.AdaptiveRefPicMarking {
		return nil
	}
	for {
		s.section(ensurePerOperation)
		op := MMCO{Op: r.ueMax(6, "memory_management_control_operation")}
		switch op.Op {
		case 1:
			op.DifferenceOfPicNumsMinus1 = r.ueMax(maxPicNum-1, "difference_of_pic_nums_minus1")
		case 2:
			op.LongTermPicNum = r.ueMax(maxPicNum-1, "long_term_pic_num")
		case 3:
			op.DifferenceOfPicNumsMinus1 = r.ueMax(maxPicNum-1, "difference_of_pic_nums_minus1")
			op.LongTermFrameIdx = r.ue("long_term_frame_idx")
		case 4:
			op.MaxLongTermFrameIdxPlus1 = r.ue("max_long_term_frame_idx_plus1")
		case 6:
			op.LongTermFrameIdx = r.ue("long_term_frame_idx")
		}
		if err := s.check("dec_ref_pic_marking"); err != nil {
			return err
		}
		if op.Op == 0 {
			return nil
		}
		if len(sh.MMCOs) == maxMMCOOps {
			return errors.NewHeaderSyntaxError("dec_ref_pic_marking: more than %d operations", maxMMCOOps)
		}
		sh.MMCOs = append(sh.MMCOs, op)
	}
}

// firstSliceOfNewPicture applies the first-slice detection of 7.4.1.2.4
// between the previous slice prev and cur.
func firstSliceOfNewPicture(prev, cur *SliceHeader, pocType uint32) bool {
	if prev == nil || cur.FirstMbInSlice == 0 {
		return true
	}
	switch {
	case prev.FrameNum != cur.FrameNum,
		prev.PPSID != cur.PPSID,
		prev.FieldPic != cur.FieldPic,
		prev.FieldPic && prev.BottomField != cur.BottomField,
		(prev.NalRefIdc == 0) != (cur.NalRefIdc == 0),
		prev.IDR != cur.IDR,
		prev.IDR && prev.IDRPicID != cur.IDRPicID:
		return true
	case pocType == 0:
		return prev.PicOrderCntLsb != cur.PicOrderCntLsb || prev.DeltaPicOrderCntBottom != cur.DeltaPicOrderCntBottom
	case pocType == 1:
		return prev.DeltaPicOrderCnt != cur.DeltaPicOrderCnt
	}
	return false
}
