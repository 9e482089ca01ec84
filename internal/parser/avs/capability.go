package avs

import "github.com/zsiec/frameparser/internal/parser"

// RequiredPresentationLength returns how many bytes of a unit
// PresentCollatedHeader inspects. The start code value alone decides.
func (c *Codec) RequiredPresentationLength(code byte) int {
	return 1
}

// PresentCollatedHeader classifies a start code unit for the collator.
func (c *Codec) PresentCollatedHeader(code byte, header []byte) parser.HeaderFlags {
	switch {
	case code <= SliceStartLast:
		return parser.FrameData
	case code == SequenceStartCode:
		return parser.PartitionPoint | parser.PossibleReversiblePoint
	case code == IPictureStartCode:
		return parser.PartitionPoint | parser.FrameData | parser.PossibleReversiblePoint
	case code == PBPictureStartCode:
		return parser.PartitionPoint | parser.FrameData
	case code == SequenceEndCode, code == VideoEditCode:
		return parser.PartitionPoint
	default:
		return 0
	}
}
