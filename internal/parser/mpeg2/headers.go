// Package mpeg2 is the MPEG-1/MPEG-2 video half of the frame parser. It
// reads sequence, GOP and picture headers and models the two-anchor
// reference structure of the syntax.
package mpeg2

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// Start code values, the byte after the 00 00 01 prefix.
const (
	PictureStartCode   = 0x00
	SliceStartFirst    = 0x01
	SliceStartLast     = 0xAF
	UserDataStartCode  = 0xB2
	SequenceHeaderCode = 0xB3
	SequenceErrorCode  = 0xB4
	ExtensionStartCode = 0xB5
	SequenceEndCode    = 0xB7
	GroupStartCode     = 0xB8
)

// Extension start code identifiers.
const (
	extSequence        = 1
	extSequenceDisplay = 2
	extQuantMatrix     = 3
	extPictureCoding   = 8
)

// Picture structures of the picture coding extension.
const (
	structureTopField    = 1
	structureBottomField = 2
	structureFrame       = 3
)

// TemporalReferenceBits is the width of temporal_reference.
const TemporalReferenceBits = 10

// headerPadding covers zero bytes the collator trims before the next start
// code, which may be the tail of a header.
const headerPadding = 8

// zigzag maps scan position to raster position.
var zigzag = [64]uint8{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// DefaultIntraMatrix is the intra quantiser matrix in raster order.
var DefaultIntraMatrix = [64]uint8{
	8, 16, 19, 22, 26, 27, 29, 34,
	16, 16, 22, 24, 27, 29, 34, 37,
	19, 22, 26, 27, 29, 34, 34, 38,
	22, 22, 26, 27, 29, 34, 37, 40,
	22, 26, 27, 29, 32, 35, 40, 48,
	26, 27, 29, 32, 35, 40, 48, 58,
	26, 27, 29, 34, 38, 46, 56, 69,
	27, 29, 35, 38, 46, 56, 69, 83,
}

// DefaultNonIntraMatrix is the flat non-intra quantiser matrix.
var DefaultNonIntraMatrix = func() [64]uint8 {
	var m [64]uint8
	for i := range m {
		m[i] = 16
	}
	return m
}()

// frameRates is indexed by frame_rate_code.
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

// FrameRateFromCode returns the rate of a frame_rate_code, or zero for a
// reserved code.
func FrameRateFromCode(code uint8) timestamp.Rational {
	if int(code) >= len(frameRates) {
		return timestamp.Rational{}
	}
	return frameRates[code]
}

// SequenceExtension is sequence_extension().
type SequenceExtension struct {
	ProfileAndLevel         uint8
	ProgressiveSequence     bool
	ChromaFormat            uint8
	HorizontalSizeExtension uint8
	VerticalSizeExtension   uint8
	BitRateExtension        uint16
	VBVBufferSizeExtension  uint8
	LowDelay                bool
	FrameRateExtensionN     uint8
	FrameRateExtensionD     uint8
}

// SequenceHeader is sequence_header() with its extension. A sequence
// without an extension is MPEG-1.
type SequenceHeader struct {
	HorizontalSize        uint16
	VerticalSize          uint16
	AspectRatioInfo       uint8
	FrameRateCode         uint8
	BitRateValue          uint32
	VBVBufferSize         uint16
	ConstrainedParameters bool

	LoadIntraMatrix    bool
	IntraMatrix        [64]uint8
	LoadNonIntraMatrix bool
	NonIntraMatrix     [64]uint8

	ExtensionPresent bool
	Extension        SequenceExtension
}

// Width is the luma width in samples.
func (s *SequenceHeader) Width() int {
	return int(s.HorizontalSize) | int(s.Extension.HorizontalSizeExtension)<<12
}

// Height is the luma height in samples.
func (s *SequenceHeader) Height() int {
	return int(s.VerticalSize) | int(s.Extension.VerticalSizeExtension)<<12
}

// FrameRate applies the extension's rate multiplier to frame_rate_code.
func (s *SequenceHeader) FrameRate() timestamp.Rational {
	base := FrameRateFromCode(s.FrameRateCode)
	if base.IsZero() || !s.ExtensionPresent {
		return base
	}
	n := int64(s.Extension.FrameRateExtensionN) + 1
	d := int64(s.Extension.FrameRateExtensionD) + 1
	return timestamp.NewRational(base.Num*n, base.Den*d)
}

// Progressive reports whether the sequence holds only progressive frames.
func (s *SequenceHeader) Progressive() bool {
	return !s.ExtensionPresent || s.Extension.ProgressiveSequence
}

// ReorderLimit is the number of pictures display may lag decode by.
func (s *SequenceHeader) ReorderLimit() int {
	if s.ExtensionPresent && s.Extension.LowDelay {
		return 0
	}
	return 1
}

// GOPHeader is group_of_pictures_header().
type GOPHeader struct {
	TimeCode   uint32
	ClosedGOP  bool
	BrokenLink bool
}

// PictureHeader is picture_header().
type PictureHeader struct {
	TemporalReference uint16
	CodingType        parser.CodingType
	VBVDelay          uint16

	FullPelForward  bool
	ForwardFCode    uint8
	FullPelBackward bool
	BackwardFCode   uint8
}

// PictureCodingExtension is picture_coding_extension().
type PictureCodingExtension struct {
	FCode                    [2][2]uint8
	IntraDCPrecision         uint8
	PictureStructure         uint8
	TopFieldFirst            bool
	FramePredFrameDCT        bool
	ConcealmentMotionVectors bool
	QScaleType               bool
	IntraVLCFormat           bool
	AlternateScan            bool
	RepeatFirstField         bool
	Chroma420Type            bool
	ProgressiveFrame         bool
	CompositeDisplay         bool
}

// Structure maps picture_structure to the parser's picture structure.
func (e *PictureCodingExtension) Structure() parser.PictureStructure {
	switch e.PictureStructure {
	case structureTopField:
		return parser.StructureTopField
	case structureBottomField:
		return parser.StructureBottomField
	default:
		return parser.StructureFrame
	}
}

// QuantMatrixExtension is quant_matrix_extension() for the luma matrices.
type QuantMatrixExtension struct {
	LoadIntraMatrix    bool
	IntraMatrix        [64]uint8
	LoadNonIntraMatrix bool
	NonIntraMatrix     [64]uint8
}

// headerReader reads fixed-width fields and keeps the first failure.
type headerReader struct {
	br  *bitstream.BitReader
	err error
}

// newHeaderReader reads payload, the bytes after the start code.
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

// matrix reads 64 scan-order values into raster order.
func (r *headerReader) matrix(m *[64]uint8, name string) {
	for i := 0; i < 64; i++ {
		m[zigzag[i]] = uint8(r.u(8, name))
	}
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
		HorizontalSize:  uint16(r.u(12, "horizontal_size_value")),
		VerticalSize:    uint16(r.u(12, "vertical_size_value")),
		AspectRatioInfo: uint8(r.u(4, "aspect_ratio_information")),
		FrameRateCode:   uint8(r.u(4, "frame_rate_code")),
		BitRateValue:    r.u(18, "bit_rate_value"),
	}
	r.marker("sequence_header marker")
	s.VBVBufferSize = uint16(r.u(10, "vbv_buffer_size_value"))
	s.ConstrainedParameters = r.flag("constrained_parameters_flag")

	s.LoadIntraMatrix = r.flag("load_intra_quantiser_matrix")
	if s.LoadIntraMatrix {
		r.matrix(&s.IntraMatrix, "intra_quantiser_matrix")
	} else {
		s.IntraMatrix = DefaultIntraMatrix
	}
	s.LoadNonIntraMatrix = r.flag("load_non_intra_quantiser_matrix")
	if s.LoadNonIntraMatrix {
		r.matrix(&s.NonIntraMatrix, "non_intra_quantiser_matrix")
	} else {
		s.NonIntraMatrix = DefaultNonIntraMatrix
	}
	if err := r.Err("sequence header"); err != nil {
		return nil, err
	}

	if s.HorizontalSize == 0 || s.VerticalSize == 0 {
		return nil, errors.NewHeaderSyntaxError("sequence header: zero picture size %dx%d", s.HorizontalSize, s.VerticalSize)
	}
	if FrameRateFromCode(s.FrameRateCode).IsZero() {
		return nil, errors.NewHeaderSyntaxError("sequence header: reserved frame_rate_code %d", s.FrameRateCode)
	}
	return s, nil
}

// parseSequenceExtension reads the extension following its identifier.
func parseSequenceExtension(r *headerReader) (SequenceExtension, error) {
	e := SequenceExtension{
		ProfileAndLevel:         uint8(r.u(8, "profile_and_level_indication")),
		ProgressiveSequence:     r.flag("progressive_sequence"),
		ChromaFormat:            uint8(r.u(2, "chroma_format")),
		HorizontalSizeExtension: uint8(r.u(2, "horizontal_size_extension")),
		VerticalSizeExtension:   uint8(r.u(2, "vertical_size_extension")),
		BitRateExtension:        uint16(r.u(12, "bit_rate_extension")),
	}
	r.marker("sequence_extension marker")
	e.VBVBufferSizeExtension = uint8(r.u(8, "vbv_buffer_size_extension"))
	e.LowDelay = r.flag("low_delay")
	e.FrameRateExtensionN = uint8(r.u(2, "frame_rate_extension_n"))
	e.FrameRateExtensionD = uint8(r.u(5, "frame_rate_extension_d"))
	if err := r.Err("sequence extension"); err != nil {
		return SequenceExtension{}, err
	}
	if e.ChromaFormat == 0 {
		return SequenceExtension{}, errors.NewHeaderSyntaxError("sequence extension: reserved chroma_format")
	}
	return e, nil
}

func parseGOPHeader(payload []byte) (*GOPHeader, error) {
	r := newHeaderReader(payload)
	g := &GOPHeader{
		TimeCode:   r.u(25, "time_code"),
		ClosedGOP:  r.flag("closed_gop"),
		BrokenLink: r.flag("broken_link"),
	}
	if err := r.Err("group of pictures header"); err != nil {
		return nil, err
	}
	return g, nil
}

func parsePictureHeader(payload []byte) (*PictureHeader, error) {
	r := newHeaderReader(payload)
	p := &PictureHeader{TemporalReference: uint16(r.u(TemporalReferenceBits, "temporal_reference"))}
	code := r.u(3, "picture_coding_type")
	p.VBVDelay = uint16(r.u(16, "vbv_delay"))

	switch code {
	case 1:
		p.CodingType = parser.CodingI
	case 2:
		p.CodingType = parser.CodingP
	case 3:
		p.CodingType = parser.CodingB
	case 4:
		return nil, errors.NewUnhandledHeaderError("D pictures are not supported")
	default:
		return nil, errors.NewHeaderSyntaxError("picture header: forbidden picture_coding_type %d", code)
	}

	if p.CodingType != parser.CodingI {
		p.FullPelForward = r.flag("full_pel_forward_vector")
		p.ForwardFCode = uint8(r.u(3, "forward_f_code"))
	}
	if p.CodingType == parser.CodingB {
		p.FullPelBackward = r.flag("full_pel_backward_vector")
		p.BackwardFCode = uint8(r.u(3, "backward_f_code"))
	}
	if err := r.Err("picture header"); err != nil {
		return nil, err
	}
	return p, nil
}

func parsePictureCodingExtension(r *headerReader) (PictureCodingExtension, error) {
	var e PictureCodingExtension
	for s := 0; s < 2; s++ {
		for t := 0; t < 2; t++ {
			e.FCode[s][t] = uint8(r.u(4, "f_code"))
		}
	}
	e.IntraDCPrecision = uint8(r.u(2, "intra_dc_precision"))
	e.PictureStructure = uint8(r.u(2, "picture_structure"))
	e.TopFieldFirst = r.flag("top_field_first")
	e.FramePredFrameDCT = r.flag("frame_pred_frame_dct")
	e.ConcealmentMotionVectors = r.flag("concealment_motion_vectors")
	e.QScaleType = r.flag("q_scale_type")
	e.IntraVLCFormat = r.flag("intra_vlc_format")
	e.AlternateScan = r.flag("alternate_scan")
	e.RepeatFirstField = r.flag("repeat_first_field")
	e.Chroma420Type = r.flag("chroma_420_type")
	e.ProgressiveFrame = r.flag("progressive_frame")
	e.CompositeDisplay = r.flag("composite_display_flag")
	if e.CompositeDisplay {
		r.u(20, "composite display fields")
	}
	if err := r.Err("picture coding extension"); err != nil {
		return PictureCodingExtension{}, err
	}
	if e.PictureStructure == 0 {
		return PictureCodingExtension{}, errors.NewHeaderSyntaxError("picture coding extension: reserved picture_structure")
	}
	return e, nil
}

func parseQuantMatrixExtension(r *headerReader) (QuantMatrixExtension, error) {
	var q QuantMatrixExtension
	if q.LoadIntraMatrix = r.flag("load_intra_quantiser_matrix"); q.LoadIntraMatrix {
		r.matrix(&q.IntraMatrix, "intra_quantiser_matrix")
	}
	if q.LoadNonIntraMatrix = r.flag("load_non_intra_quantiser_matrix"); q.LoadNonIntraMatrix {
		r.matrix(&q.NonIntraMatrix, "non_intra_quantiser_matrix")
	}
	if err := r.Err("quant matrix extension"); err != nil {
		return QuantMatrixExtension{}, err
	}
	return q, nil
}
