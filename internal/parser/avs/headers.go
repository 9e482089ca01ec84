// Package avs parses AVS (GB/T 20090.2) video sequence and picture
// headers for the frame parser.
package avs

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// Start code values. Codes up to SliceStartLast are slices.
const (
	SliceStartLast     = 0xAF
	SequenceStartCode  = 0xB0
	SequenceEndCode    = 0xB1
	UserDataStartCode  = 0xB2
	IPictureStartCode  = 0xB3
	ExtensionStartCode = 0xB5
	PBPictureStartCode = 0xB6
	VideoEditCode      = 0xB7
)

// PictureDistanceBits is the width of picture_distance.
const PictureDistanceBits = 8

const (
	structureFrame = 1
	pbCodingTypeP  = 1
	pbCodingTypeB  = 2
	headerPadding  = 8
)

var frameRates = [...]timestamp.Rational{
	{},
	{Num: 24000, Den: 1001},
	{Num: 24, Den: 1},
	{Num: 25, Den: 1},
	{Num: 30000, Den: 1001},
	{Num: 30, Den: 1},
	{Num: 50, Den: 1},
	{Num: 60000, Den: 1001},
	{Num: 60, Den: 1},
}

// SequenceHeader is video_sequence_header().
type SequenceHeader struct {
	ProfileID           uint8
	LevelID             uint8
	ProgressiveSequence bool
	HorizontalSize      uint16
	VerticalSize        uint16
	ChromaFormat        uint8
	SamplePrecision     uint8
	AspectRatio         uint8
	FrameRateCode       uint8
	// BitRate is in units of 400 bit/s.
	BitRate       uint32
	LowDelay      bool
	BBVBufferSize uint32
}

// FrameRate returns the rate of frame_rate_code.
func (s *SequenceHeader) FrameRate() timestamp.Rational {
	if int(s.FrameRateCode) >= len(frameRates) {
		return timestamp.Rational{}
	}
	return frameRates[s.FrameRateCode]
}

// ReorderLimit is the number of pictures display may lag decode by.
func (s *SequenceHeader) ReorderLimit() int {
	if s.LowDelay {
		return 0
	}
	return 1
}

// PictureHeader covers both i_picture_header() and pb_picture_header().
type PictureHeader struct {
	CodingType parser.CodingType
	BBVDelay   uint16

	TimeCodePresent bool
	TimeCode        uint32

	PictureDistance uint8
	BBVCheckTimes   uint32

	ProgressiveFrame bool
	// PictureStructure is 1 for a frame and 0 for two fields coded together.
	PictureStructure        uint8
	AdvancedPredModeDisable bool
	TopFieldFirst           bool
	RepeatFirstField        bool
	FixedPictureQP          bool
	PictureQP               uint8

	// PictureReferenceFlag restricts a P picture to one reference.
	PictureReferenceFlag bool
	NoForwardReference   bool
	SkipModeFlag         bool

	LoopFilterDisable    bool
	LoopFilterParameters bool
	AlphaCOffset         int32
	BetaOffset           int32
}

// Interlaced reports whether the picture carries two fields.
func (p *PictureHeader) Interlaced() bool {
	return !p.ProgressiveFrame
}

type headerReader struct {
	br  *bitstream.BitReader
	err error
}

func newHeaderReader(payload []byte) *headerReader {
	padded := make([]byte, len(payload), len(payload)+headerPadding)
	copy(padded, payload)
	padded = append(padded, make([]byte, headerPadding)...)
	return &headerReader{br: bitstream.NewBitReader(padded)}
}

func (r *headerReader) u(n int, name string) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadBits(n)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (r *headerReader) flag(name string) bool {
	return r.u(1, name) == 1
}

func (r *headerReader) marker(name string) {
	if r.u(1, name) != 1 && r.err == nil {
		r.err = fmt.Errorf("%s: marker bit not set", name)
	}
}

func (r *headerReader) ue(name string) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadUE()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (r *headerReader) se(name string) int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.ReadSE()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (r *headerReader) Err(what string) error {
	if r.err == nil {
		return nil
	}
	return errors.WrapHeaderSyntaxError(r.err, what)
}

func parseSequenceHeader(payload []byte) (*SequenceHeader, error) {
	r := newHeaderReader(payload)
	s := &SequenceHeader{
		ProfileID:           uint8(r.u(8, "profile_id")),
		LevelID:             uint8(r.u(8, "level_id")),
		ProgressiveSequence: r.flag("progressive_sequence"),
		HorizontalSize:      uint16(r.u(14, "horizontal_size")),
		VerticalSize:        uint16(r.u(14, "vertical_size")),
		ChromaFormat:        uint8(r.u(2, "chroma_format")),
		SamplePrecision:     uint8(r.u(3, "sample_precision")),
		AspectRatio:         uint8(r.u(4, "aspect_ratio")),
		FrameRateCode:       uint8(r.u(4, "frame_rate_code")),
	}
	lower := r.u(18, "bit_rate_lower")
	r.marker("sequence header marker")
	upper := r.u(12, "bit_rate_upper")
	s.BitRate = upper<<18 | lower
	s.LowDelay = r.flag("low_delay")
	r.marker("sequence header marker")
	s.BBVBufferSize = r.u(18, "bbv_buffer_size")
	if err := r.Err("sequence header"); err != nil {
		return nil, err
	}

	if s.HorizontalSize == 0 || s.VerticalSize == 0 {
		return nil, errors.NewHeaderSyntaxError("sequence header: zero picture size %dx%d", s.HorizontalSize, s.VerticalSize)
	}
	if s.FrameRate().IsZero() {
		return nil, errors.NewHeaderSyntaxError("sequence header: reserved frame_rate_code %d", s.FrameRateCode)
	}
	if s.ChromaFormat == 0 {
		return nil, errors.NewHeaderSyntaxError("sequence header: reserved chroma_format")
	}
	return s, nil
}

// parsePictureHeader reads the header after an I or PB picture start code.
func parsePictureHeader(code byte, payload []byte, seq *SequenceHeader) (*PictureHeader, error) {
	r := newHeaderReader(payload)
	p := &PictureHeader{BBVDelay: uint16(r.u(16, "bbv_delay"))}

	if code == IPictureStartCode {
		p.CodingType = parser.CodingI
		if p.TimeCodePresent = r.flag("time_code_flag"); p.TimeCodePresent {
			p.TimeCode = r.u(24, "time_code")
		}
		r.marker("i picture header marker")
	} else {
		switch ct := r.u(2, "picture_coding_type"); ct {
		case pbCodingTypeP:
			p.CodingType = parser.CodingP
		case pbCodingTypeB:
			p.CodingType = parser.CodingB
		default:
			if r.err == nil {
				return nil, errors.NewHeaderSyntaxError("pb picture header: invalid picture_coding_type %d", ct)
			}
		}
	}

	p.PictureDistance = uint8(r.u(PictureDistanceBits, "picture_distance"))
	if seq.LowDelay {
		p.BBVCheckTimes = r.ue("bbv_check_times")
	}
	p.ProgressiveFrame = r.flag("progressive_frame")
	p.PictureStructure = structureFrame
	if !p.ProgressiveFrame {
		p.PictureStructure = uint8(r.u(1, "picture_structure"))
		if p.PictureStructure == 0 && code == PBPictureStartCode {
			p.AdvancedPredModeDisable = r.flag("advanced_pred_mode_disable")
		}
	}
	p.TopFieldFirst = r.flag("top_field_first")
	p.RepeatFirstField = r.flag("repeat_first_field")
	p.FixedPictureQP = r.flag("fixed_picture_qp")
	p.PictureQP = uint8(r.u(6, "picture_qp"))

	if code == IPictureStartCode {
		if !p.ProgressiveFrame && p.PictureStructure == 0 {
			p.SkipModeFlag = r.flag("skip_mode_flag")
		}
		r.u(4, "reserved_bits")
	} else {
		if !(p.CodingType == parser.CodingB && p.PictureStructure == structureFrame) {
			p.PictureReferenceFlag = r.flag("picture_reference_flag")
		}
		p.NoForwardReference = r.flag("no_forward_reference_flag")
		r.u(3, "reserved_bits")
		p.SkipModeFlag = r.flag("skip_mode_flag")
	}

	p.LoopFilterDisable = r.flag("loop_filter_disable")
	if !p.LoopFilterDisable {
		if p.LoopFilterParameters = r.flag("loop_filter_parameter_flag"); p.LoopFilterParameters {
			p.AlphaCOffset = r.se("alpha_c_offset")
			p.BetaOffset = r.se("beta_offset")
		}
	}
	if err := r.Err("picture header"); err != nil {
		return nil, err
	}
	return p, nil
}
