package testdata

import "github.com/zsiec/frameparser/internal/bitstream"

// AVS start code values.
const (
	AVSSequence  = 0xB0
	AVSEnd       = 0xB1
	AVSIPicture  = 0xB3
	AVSPBPicture = 0xB6
	AVSVideoEdit = 0xB7
)

// AVS picture coding types of the PB picture header.
const (
	AVSCodingP = 1
	AVSCodingB = 2
)

// AVSSequenceHeader describes video_sequence_header().
type AVSSequenceHeader struct {
	Profile, Level uint32
	Progressive    bool
	Width, Height  uint32
	FrameRateCode  uint32
	BitRate        uint32
	LowDelay       bool
}

// DefaultAVSSequence is a 1920x1080 25 Hz Jizhun profile sequence.
func DefaultAVSSequence() AVSSequenceHeader {
	return AVSSequenceHeader{
		Profile:       0x20,
		Level:         0x42,
		Progressive:   true,
		Width:         1920,
		Height:        1080,
		FrameRateCode: 3,
		BitRate:       (1 << 18) + 5,
	}
}

// Encode returns the sequence header unit.
func (s AVSSequenceHeader) Encode() []byte {
	w := bitstream.NewBitWriter()
	w.WriteBits(s.Profile, 8)
	w.WriteBits(s.Level, 8)
	w.WriteFlag(s.Progressive)
	w.WriteBits(s.Width, 14)
	w.WriteBits(s.Height, 14)
	w.WriteBits(1, 2) // 4:2:0
	w.WriteBits(1, 3) // 8 bit
	w.WriteBits(1, 4)
	w.WriteBits(s.FrameRateCode, 4)
	w.WriteBits(s.BitRate&0x3FFFF, 18)
	w.WriteBit(1)
	w.WriteBits(s.BitRate>>18, 12)
	w.WriteFlag(s.LowDelay)
	w.WriteBit(1)
	w.WriteBits(0x1000, 18)
	w.WriteBits(0, 3)
	return append([]byte{AVSSequence}, w.Bytes()...)
}

// AVSPictureHeader describes an I picture header when CodingType is 0, or
// a PB picture header otherwise.
type AVSPictureHeader struct {
	CodingType       uint32
	Distance         uint32
	ProgressiveFrame bool
	// FieldCoded clears picture_structure on interlaced pictures.
	FieldCoded     bool
	TopFieldFirst  bool
	SingleRef      bool
	LoopFilterOffs bool
	AlphaCOffset   int32
	BetaOffset     int32
}

// Encode returns the picture header unit for a sequence.
func (p AVSPictureHeader) Encode(seq AVSSequenceHeader) []byte {
	intra := p.CodingType == 0
	w := bitstream.NewBitWriter()
	w.WriteBits(0xFFFF, 16)
	if intra {
		w.WriteBit(0) // time_code_flag
		w.WriteBit(1)
	} else {
		w.WriteBits(p.CodingType, 2)
	}
	w.WriteBits(p.Distance, 8)
	if seq.LowDelay {
		w.WriteUE(0)
	}
	w.WriteFlag(p.ProgressiveFrame)
	structure := uint32(1)
	if !p.ProgressiveFrame {
		if p.FieldCoded {
			structure = 0
		}
		w.WriteBits(structure, 1)
		if structure == 0 && !intra {
			w.WriteBit(0)
		}
	}
	w.WriteFlag(p.TopFieldFirst)
	w.WriteBit(0)
	w.WriteBit(0)
	w.WriteBits(26, 6)
	if intra {
		if !p.ProgressiveFrame && structure == 0 {
			w.WriteBit(0)
		}
		w.WriteBits(0, 4)
	} else {
		if !(p.CodingType == AVSCodingB && structure == 1) {
			w.WriteFlag(p.SingleRef)
		}
		w.WriteBits(0, 4)
		w.WriteBit(1) // skip_mode_flag
	}
	w.WriteBit(0) // loop_filter_disable
	w.WriteFlag(p.LoopFilterOffs)
	if p.LoopFilterOffs {
		w.WriteSE(p.AlphaCOffset)
		w.WriteSE(p.BetaOffset)
	}
	w.WriteBit(1)

	code := byte(AVSPBPicture)
	if intra {
		code = AVSIPicture
	}
	return append([]byte{code}, w.Bytes()...)
}

// AVSSlice returns a slice unit at the given vertical position.
func AVSSlice(row uint8) []byte {
	return []byte{row, 0x6B, 0x5A, 0xC3, 0x81}
}

// AVSSequenceEnd returns a video_sequence_end_code unit.
func AVSSequenceEnd() []byte {
	return []byte{AVSEnd}
}

// AVSVideoEditUnit returns a video_edit_code unit.
func AVSVideoEditUnit() []byte {
	return []byte{AVSVideoEdit}
}

// AVSAccessUnit returns the units of one picture coded against seq, led
// by the sequence header when withSequence is set.
func AVSAccessUnit(seq AVSSequenceHeader, withSequence bool, pic AVSPictureHeader) [][]byte {
	var units [][]byte
	if withSequence {
		units = append(units, seq.Encode())
	}
	return append(units, pic.Encode(seq), AVSSlice(0), AVSSlice(1))
}
