// Package h264 parses H.264 (ITU-T H.264 / ISO 14496-10) access units for
// the frame parser: parameter sets, SEI, slice headers, picture order count,
// reference picture marking and reference list construction.
package h264

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/errors"
)

// NALUnitType is the nal_unit_type field of a NAL unit header.
type NALUnitType uint8

const (
	NALUnspecified      NALUnitType = 0
	NALSlice            NALUnitType = 1
	NALSliceDataA       NALUnitType = 2
	NALSliceDataB       NALUnitType = 3
	NALSliceDataC       NALUnitType = 4
	NALIDRSlice         NALUnitType = 5
	NALSEI              NALUnitType = 6
	NALSPS              NALUnitType = 7
	NALPPS              NALUnitType = 8
	NALAccessUnitDelim  NALUnitType = 9
	NALEndOfSequence    NALUnitType = 10
	NALEndOfStream      NALUnitType = 11
	NALFiller           NALUnitType = 12
	NALSPSExtension     NALUnitType = 13
	NALPrefix           NALUnitType = 14
	NALSubsetSPS        NALUnitType = 15
	NALAuxiliarySlice   NALUnitType = 19
	NALSliceExtension   NALUnitType = 20
	NALSliceExtension3D NALUnitType = 21
)

var nalTypeNames = map[NALUnitType]string{
	NALSlice:            "slice",
	NALSliceDataA:       "slice_data_a",
	NALSliceDataB:       "slice_data_b",
	NALSliceDataC:       "slice_data_c",
	NALIDRSlice:         "idr_slice",
	NALSEI:              "sei",
	NALSPS:              "sps",
	NALPPS:              "pps",
	NALAccessUnitDelim:  "aud",
	NALEndOfSequence:    "end_of_sequence",
	NALEndOfStream:      "end_of_stream",
	NALFiller:           "filler",
	NALSPSExtension:     "sps_extension",
	NALPrefix:           "prefix",
	NALSubsetSPS:        "subset_sps",
	NALAuxiliarySlice:   "auxiliary_slice",
	NALSliceExtension:   "slice_extension",
	NALSliceExtension3D: "slice_extension_3d",
}

func (t NALUnitType) String() string {
	if name, ok := nalTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("nal_%d", uint8(t))
}

// IsSlice reports whether the unit carries coded slice data this parser
// handles.
func (t NALUnitType) IsSlice() bool {
	return t == NALSlice || t == NALIDRSlice
}

// nalHeader is the one-byte NAL unit header.
type nalHeader struct {
	refIdc   uint8
	unitType NALUnitType
}

func parseNALHeader(b byte) (nalHeader, error) {
	if b&0x80 != 0 {
		return nalHeader{}, errors.NewHeaderSyntaxError("forbidden_zero_bit set in NAL header 0x%02x", b)
	}
	return nalHeader{
		refIdc:   (b >> 5) & 0x03,
		unitType: NALUnitType(b & 0x1F),
	}, nil
}
