package testdata

import "github.com/zsiec/frameparser/internal/bitstream"

// MPEG-2 start code values.
const (
	MPEG2Picture   = 0x00
	MPEG2Sequence  = 0xB3
	MPEG2Extension = 0xB5
	MPEG2End       = 0xB7
	MPEG2GOP       = 0xB8
)

// MPEG-2 picture coding types.
const (
	MPEG2CodingI = 1
	MPEG2CodingP = 2
	MPEG2CodingB = 3
)

// MPEG2SequenceHeader describes sequence_header() and, when Extension is
// set, the sequence_extension() that follows it.
type MPEG2SequenceHeader struct {
	Width, Height  uint32
	AspectRatio    uint32
	FrameRateCode  uint32
	BitRate        uint32
	VBVBufferSize  uint32
	IntraMatrix    []uint8
	NonIntraMatrix []uint8

	Extension     bool
	Progressive   bool
	LowDelay      bool
	FrameRateExtN uint32
	FrameRateExtD uint32
}

// DefaultMPEG2Sequence is a 720x576 25 Hz interlaced MPEG-2 sequence.
func DefaultMPEG2Sequence() MPEG2SequenceHeader {
	return MPEG2SequenceHeader{
		Width:         720,
		Height:        576,
		AspectRatio:   2,
		FrameRateCode: 3,
		BitRate:       15000,
		VBVBufferSize: 112,
		Extension:     true,
	}
}

func writeMatrix(w *bitstream.BitWriter, m []uint8) {
	w.WriteFlag(m != nil)
	for _, v := range m {
		w.WriteBits(uint32(v), 8)
	}
}

// Encode returns the sequence header unit and, when Extension is set, the
// sequence extension unit.
func (s MPEG2SequenceHeader) Encode() [][]byte {
	w := bitstream.NewBitWriter()
	w.WriteBits(s.Width&0xFFF, 12)
	w.WriteBits(s.Height&0xFFF, 12)
	w.WriteBits(s.AspectRatio, 4)
	w.WriteBits(s.FrameRateCode, 4)
	w.WriteBits(s.BitRate, 18)
	w.WriteBit(1)
	w.WriteBits(s.VBVBufferSize, 10)
	w.WriteBit(0)
	writeMatrix(w, s.IntraMatrix)
	writeMatrix(w, s.NonIntraMatrix)
	units := [][]byte{append([]byte{MPEG2Sequence}, w.Bytes()...)}
	if !s.Extension {
		return units
	}

	w = bitstream.NewBitWriter()
	w.WriteBits(1, 4)
	w.WriteBits(0x48, 8) // main profile, main level
	w.WriteFlag(s.Progressive)
	w.WriteBits(1, 2) // 4:2:0
	w.WriteBits(s.Width>>12, 2)
	w.WriteBits(s.Height>>12, 2)
	w.WriteBits(0, 12)
	w.WriteBit(1)
	w.WriteBits(0, 8)
	w.WriteFlag(s.LowDelay)
	w.WriteBits(s.FrameRateExtN, 2)
	w.WriteBits(s.FrameRateExtD, 5)
	return append(units, append([]byte{MPEG2Extension}, w.Bytes()...))
}

// MPEG2GOPHeader describes group_of_pictures_header().
type MPEG2GOPHeader struct {
	TimeCode   uint32
	Closed     bool
	BrokenLink bool
}

// Encode returns the GOP unit.
func (g MPEG2GOPHeader) Encode() []byte {
	w := bitstream.NewBitWriter()
	w.WriteBits(g.TimeCode, 25)
	w.WriteFlag(g.Closed)
	w.WriteFlag(g.BrokenLink)
	return append([]byte{MPEG2GOP}, w.Bytes()...)
}

// MPEG2PictureHeader describes picture_header() and an optional
// picture_coding_extension(). Structure 0 means a frame picture.
type MPEG2PictureHeader struct {
	TemporalReference uint32
	CodingType        uint32

	Extension        bool
	Structure        uint32
	TopFieldFirst    bool
	ProgressiveFrame bool
}

// Encode returns the picture header unit and its coding extension.
func (p MPEG2PictureHeader) Encode() [][]byte {
	w := bitstream.NewBitWriter()
	w.WriteBits(p.TemporalReference, 10)
	w.WriteBits(p.CodingType, 3)
	w.WriteBits(0xFFFF, 16)
	if p.CodingType == MPEG2CodingP || p.CodingType == MPEG2CodingB {
		w.WriteBit(0)
		w.WriteBits(7, 3)
	}
	if p.CodingType == MPEG2CodingB {
		w.WriteBit(0)
		w.WriteBits(7, 3)
	}
	units := [][]byte{append([]byte{MPEG2Picture}, w.Bytes()...)}
	if !p.Extension {
		return units
	}

	structure := p.Structure
	if structure == 0 {
		structure = 3
	}
	w = bitstream.NewBitWriter()
	w.WriteBits(8, 4)
	for i := 0; i < 4; i++ {
		w.WriteBits(0xF, 4)
	}
	w.WriteBits(0, 2)
	w.WriteBits(structure, 2)
	w.WriteFlag(p.TopFieldFirst)
	w.WriteFlag(structure == 3)
	w.WriteBits(0, 5)
	w.WriteFlag(p.ProgressiveFrame) // chroma_420_type
	w.WriteFlag(p.ProgressiveFrame)
	w.WriteBit(0)
	return append(units, append([]byte{MPEG2Extension}, w.Bytes()...))
}

// MPEG2Slice returns a slice unit for the given macroblock row.
func MPEG2Slice(row uint8) []byte {
	return []byte{row, 0x0A, 0x5A, 0xC3, 0x81}
}

// MPEG2SequenceEnd returns a sequence_end_code unit.
func MPEG2SequenceEnd() []byte {
	return []byte{MPEG2End}
}

// MPEG2AccessUnit returns the units of one picture: optional sequence and
// GOP headers, the picture header and its extension, and two slices.
func MPEG2AccessUnit(seq *MPEG2SequenceHeader, gop *MPEG2GOPHeader, pic MPEG2PictureHeader) [][]byte {
	var units [][]byte
	if seq != nil {
		units = append(units, seq.Encode()...)
	}
	if gop != nil {
		units = append(units, gop.Encode())
	}
	units = append(units, pic.Encode()...)
	return append(units, MPEG2Slice(1), MPEG2Slice(2))
}
