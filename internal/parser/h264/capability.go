package h264

import (
	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/parser"
)

// sliceHeaderPeek is enough bytes after the NAL header for
// first_mb_in_slice and slice_type in any picture size.
const sliceHeaderPeek = 8

// RequiredPresentationLength returns how many bytes of a unit, header byte
// included, PresentCollatedHeader inspects.
func (c *Codec) RequiredPresentationLength(code byte) int {
	switch NALUnitType(code & 0x1F) {
	case NALSlice, NALIDRSlice:
		return sliceHeaderPeek
	case NALSEI:
		return 2
	default:
		return 1
	}
}

// PresentCollatedHeader classifies a NAL unit for the collator.
func (c *Codec) PresentCollatedHeader(code byte, header []byte) parser.HeaderFlags {
	t := NALUnitType(code & 0x1F)
	switch t {
	case NALAccessUnitDelim, NALSPS, NALPPS, NALEndOfSequence:
		return parser.PartitionPoint
	case NALSEI:
		flags := parser.PartitionPoint
		if len(header) > 1 && header[1] == SEIRecoveryPoint {
			flags |= parser.PossibleReversiblePoint
		}
		return flags
	case NALSlice, NALIDRSlice:
	default:
		return 0
	}

	flags := parser.FrameData
	if len(header) < 2 {
		return flags
	}
	br := bitstream.NewBitReader(bitstream.RemoveEmulationPrevention(header[1:]))
	firstMb, err := br.ReadUE()
	if err != nil || firstMb != 0 {
		return flags
	}
	flags |= parser.PartitionPoint

	if t == NALIDRSlice {
		return flags | parser.PossibleReversiblePoint | parser.ConfirmReversiblePoint
	}
	if sliceType, err := br.ReadUE(); err == nil && SliceType(sliceType%5).IsIntra() {
		flags |= parser.PossibleReversiblePoint
	}
	return flags
}
