package h264

import (
	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
)

// PictureParameterSet is pic_parameter_set_rbsp() (7.3.2.2).
type PictureParameterSet struct {
	ID    uint32
	SPSID uint32

	EntropyCodingMode                 bool
	BottomFieldPicOrderInFramePresent bool

	NumSliceGroups       uint32
	SliceGroupMapType    uint32
	RunLengthMinus1      []uint32
	TopLeft              []uint32
	BottomRight          []uint32
	SliceGroupChangeDir  bool
	SliceGroupChangeRate uint32
	PicSizeInMapUnits    uint32
	SliceGroupID         []uint32

	NumRefIdxL0DefaultActive uint32
	NumRefIdxL1DefaultActive uint32
	WeightedPred             bool
	WeightedBipredIDC        uint32

	PicInitQP                      int32
	PicInitQS                      int32
	ChromaQPIndexOffset            int32
	DeblockingFilterControlPresent bool
	ConstrainedIntraPred           bool
	RedundantPicCntPresent         bool

	Transform8x8Mode          bool
	ScalingMatrixPresent      bool
	scalingSyntax             scalingMatrixSyntax
	SecondChromaQPIndexOffset int32
}

// parsePPS parses the RBSP of a PPS NAL unit. The referenced SPS must be
// known so the scaling list count and map unit size can be derived.
func parsePPS(rbsp []byte, lookup func(id uint32) *SequenceParameterSet) (*PictureParameterSet, error) {
	br := bitstream.NewBitReader(rbsp)
	r := newSyntaxReader(br)
	pps := &PictureParameterSet{}

	pps.ID = r.ue("pic_parameter_set_id")
	pps.SPSID = r.ue("seq_parameter_set_id")
	if err := r.Err("pps"); err != nil {
		return nil, err
	}
	if pps.ID >= MaxPPSCount {
		return nil, errors.NewStreamSyntaxError("pic_parameter_set_id %d out of range", pps.ID)
	}
	if pps.SPSID >= MaxSPSCount {
		return nil, errors.NewStreamSyntaxError("seq_parameter_set_id %d out of range in pps %d", pps.SPSID, pps.ID)
	}
	sps := lookup(pps.SPSID)
	if sps == nil {
		return nil, errors.NewNoStreamParametersError("pps %d references unknown sps %d", pps.ID, pps.SPSID)
	}

	pps.EntropyCodingMode = r.flag("entropy_coding_mode_flag")
	pps.BottomFieldPicOrderInFramePresent = r.flag("bottom_field_pic_order_in_frame_present_flag")
	pps.NumSliceGroups = r.ue("num_slice_groups_minus1") + 1
	if r.err == nil && pps.NumSliceGroups > maxSliceGroups {
		return nil, errors.NewStreamSyntaxError("num_slice_groups %d out of range in pps %d", pps.NumSliceGroups, pps.ID)
	}
	if pps.NumSliceGroups > 1 {
		readSliceGroupMap(r, pps, sps)
	}

	pps.NumRefIdxL0DefaultActive = r.ueMax(31, "num_ref_idx_l0_default_active_minus1") + 1
	pps.NumRefIdxL1DefaultActive = r.ueMax(31, "num_ref_idx_l1_default_active_minus1") + 1
	pps.WeightedPred = r.flag("weighted_pred_flag")
	pps.WeightedBipredIDC = r.u(2, "weighted_bipred_idc")
	pps.PicInitQP = r.se("pic_init_qp_minus26") + 26
	pps.PicInitQS = r.se("pic_init_qs_minus26") + 26
	pps.ChromaQPIndexOffset = r.se("chroma_qp_index_offset")
	pps.DeblockingFilterControlPresent = r.flag("deblocking_filter_control_present_flag")
	pps.ConstrainedIntraPred = r.flag("constrained_intra_pred_flag")
	pps.RedundantPicCntPresent = r.flag("redundant_pic_cnt_present_flag")
	pps.SecondChromaQPIndexOffset = pps.ChromaQPIndexOffset
	if r.err == nil && pps.WeightedBipredIDC > 2 {
		r.fail("weighted_bipred_idc", errOutOfRange(int64(pps.WeightedBipredIDC)))
	}

	if r.err == nil && br.MoreRBSPData() {
		pps.Transform8x8Mode = r.flag("transform_8x8_mode_flag")
		pps.ScalingMatrixPresent = r.flag("pic_scaling_matrix_present_flag")
		if pps.ScalingMatrixPresent {
			count := 6
			if pps.Transform8x8Mode {
				if sps.ChromaFormatIDC == 3 {
					count += 6
				} else {
					count += 2
				}
			}
			pps.scalingSyntax = readScalingMatrix(r, count)
		}
		pps.SecondChromaQPIndexOffset = r.se("second_chroma_qp_index_offset")
	}

	if err := r.Err("pps"); err != nil {
		return nil, err
	}
	return pps, nil
}

func readSliceGroupMap(r *syntaxReader, pps *PictureParameterSet, sps *SequenceParameterSet) {
	pps.SliceGroupMapType = r.ueMax(6, "slice_group_map_type")
	switch pps.SliceGroupMapType {
	case 0:
		pps.RunLengthMinus1 = make([]uint32, pps.NumSliceGroups)
		for i := range pps.RunLengthMinus1 {
			pps.RunLengthMinus1[i] = r.ue("run_length_minus1")
		}
	case 2:
		pps.TopLeft = make([]uint32, pps.NumSliceGroups-1)
		pps.BottomRight = make([]uint32, pps.NumSliceGroups-1)
		for i := range pps.TopLeft {
			pps.TopLeft[i] = r.ue("top_left")
			pps.BottomRight[i] = r.ue("bottom_right")
		}
	case 3, 4, 5:
		pps.SliceGroupChangeDir = r.flag("slice_group_change_direction_flag")
		pps.SliceGroupChangeRate = r.ue("slice_group_change_rate_minus1") + 1
	case 6:
		pps.PicSizeInMapUnits = r.ue("pic_size_in_map_units_minus1") + 1
		if r.err != nil {
			return
		}
		if pps.PicSizeInMapUnits != sps.PicSizeInMapUnits() {
			r.fail("pic_size_in_map_units_minus1", errOutOfRange(int64(pps.PicSizeInMapUnits)))
			return
		}
		bits := ceilLog2(pps.NumSliceGroups)
		pps.SliceGroupID = make([]uint32, pps.PicSizeInMapUnits)
		for i := range pps.SliceGroupID {
			pps.SliceGroupID[i] = r.u(bits, "slice_group_id")
		}
	}
}

// EffectiveScaling returns the scaling matrix a picture using this PPS
// with sps decodes with.
func (p *PictureParameterSet) EffectiveScaling(sps *SequenceParameterSet) ScalingMatrix {
	if !p.ScalingMatrixPresent {
		return sps.Scaling
	}
	if sps.ScalingMatrixPresent {
		return p.scalingSyntax.resolve(&sps.Scaling)
	}
	return p.scalingSyntax.resolve(nil)
}

// SliceGroupChangeCycleBits is the width of slice_group_change_cycle.
func (p *PictureParameterSet) SliceGroupChangeCycleBits(sps *SequenceParameterSet) int {
	if p.SliceGroupChangeRate == 0 {
		return 0
	}
	// Ceil(Log2(PicSizeInMapUnits / SliceGroupChangeRate + 1)) with exact
	// division.
	size := uint64(sps.PicSizeInMapUnits())
	rate := uint64(p.SliceGroupChangeRate)
	n := 0
	for (uint64(1)<<n)*rate < size+rate {
		n++
	}
	return n
}
