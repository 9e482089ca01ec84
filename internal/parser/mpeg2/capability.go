package mpeg2

import "github.com/zsiec/frameparser/internal/parser"

// RequiredPresentationLength returns how many bytes of a unit, start code
// value included, PresentCollatedHeader inspects.
func (c *Codec) RequiredPresentationLength(code byte) int {
	switch code {
	case PictureStartCode:
		// temporal_reference and picture_coding_type
		return 3
	case GroupStartCode:
		// time_code, closed_gop and broken_link
		return 5
	default:
		return 1
	}
}

// PresentCollatedHeader classifies a start code unit for the collator.
func (c *Codec) PresentCollatedHeader(code byte, header []byte) parser.HeaderFlags {
	switch {
	case code == SequenceHeaderCode:
		return parser.PartitionPoint | parser.PossibleReversiblePoint
	case code == GroupStartCode:
		flags := parser.PartitionPoint | parser.PossibleReversiblePoint
		if len(header) >= 5 && header[4]&0x40 != 0 {
			flags |= parser.ConfirmReversiblePoint
		}
		return flags
	case code == PictureStartCode:
		flags := parser.PartitionPoint | parser.FrameData
		if len(header) >= 3 && (header[2]>>3)&0x07 == 1 {
			flags |= parser.PossibleReversiblePoint
		}
		return flags
	case code >= SliceStartFirst && code <= SliceStartLast:
		return parser.FrameData
	case code == SequenceEndCode:
		return parser.PartitionPoint
	default:
		return 0
	}
}
