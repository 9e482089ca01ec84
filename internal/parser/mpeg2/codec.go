package mpeg2

import (
	"reflect"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
)

// Options configures a Codec.
type Options struct {
	StreamParameterPoolSize int
	FrameParameterPoolSize  int
	Logger                  logger.Logger
}

// DefaultOptions returns pool sizes for one active sequence header with
// resends in flight.
func DefaultOptions() Options {
	return Options{
		StreamParameterPoolSize: 8,
		FrameParameterPoolSize:  32,
	}
}

// FrameParameters is everything the codec derived for one picture.
type FrameParameters struct {
	Picture PictureHeader

	CodingExtensionPresent bool
	CodingExtension        PictureCodingExtension

	GOPPresent bool
	GOP        GOPHeader

	QuantMatrixPresent bool
	QuantMatrix        QuantMatrixExtension

	SliceCount  int
	OrderKey    int64
	DecodeIndex int
}

func resetFrameParameters(fp *FrameParameters) {
	*fp = FrameParameters{DecodeIndex: parser.InvalidIndex}
}

// FrameParametersOf returns the frame parameters attached to an access unit.
func FrameParametersOf(frame *buffer.Buffer[parser.CodedFrame]) (*FrameParameters, bool) {
	b, ok := buffer.AttachedOf[FrameParameters](frame)
	if !ok {
		return nil, false
	}
	return b.Value(), true
}

// SequenceHeaderOf returns the sequence header attached to an access unit.
func SequenceHeaderOf(frame *buffer.Buffer[parser.CodedFrame]) (*SequenceHeader, bool) {
	b, ok := buffer.AttachedOf[SequenceHeader](frame)
	if !ok {
		return nil, false
	}
	return b.Value(), true
}

// groupState tracks the group of pictures the stream is in.
type groupState struct {
	closed     bool
	brokenLink bool
	anchors    int
}

type fieldState struct {
	valid       bool
	structure   parser.PictureStructure
	temporalRef uint16
	codingType  parser.CodingType
	orderKey    int64
}

type pendingPicture struct {
	pic          *parser.Picture
	kind         parser.PictureKind
	fp           *buffer.Buffer[FrameParameters]
	codingType   parser.CodingType
	structure    parser.PictureStructure
	temporalRef  uint16
	orderKey     int64
	order        parser.OrderCounter
	group        groupState
	groupStart   bool
	backwardOnly bool
}

// Codec is the MPEG-2 video half of the frame parser. MPEG-1 streams are
// handled as sequences without extensions.
type Codec struct {
	log    logger.Logger
	policy parser.Policy

	seqPool *buffer.Pool[SequenceHeader]
	fpPool  *buffer.Pool[FrameParameters]

	sequence *buffer.Buffer[SequenceHeader]
	active   *buffer.Buffer[SequenceHeader]

	seenKey   bool
	anchors   parser.AnchorTracker
	order     parser.OrderCounter
	group     groupState
	prev      fieldState
	clearNext bool

	pending *pendingPicture
}

var _ parser.Codec = (*Codec)(nil)

// New creates an MPEG-2 codec.
func New(opts Options) *Codec {
	defaults := DefaultOptions()
	if opts.StreamParameterPoolSize <= 0 {
		opts.StreamParameterPoolSize = defaults.StreamParameterPoolSize
	}
	if opts.FrameParameterPoolSize <= 0 {
		opts.FrameParameterPoolSize = defaults.FrameParameterPoolSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	log = log.WithField("codec", "mpeg2")

	return &Codec{
		log:     log,
		seqPool: buffer.NewPool[SequenceHeader]("mpeg2_sequence_header", opts.StreamParameterPoolSize, nil, log),
		fpPool:  buffer.NewPool[FrameParameters]("mpeg2_frame_parameters", opts.FrameParameterPoolSize, resetFrameParameters, log),
		order:   *parser.NewOrderCounter(TemporalReferenceBits),
	}
}

// Name returns the codec name used in logs and metrics.
func (c *Codec) Name() string {
	return "mpeg2"
}

// SetPolicy replaces the playback policy.
func (c *Codec) SetPolicy(p parser.Policy) {
	c.policy = p
}

// accessUnit collects the headers of one access unit.
type accessUnit struct {
	sequence      *SequenceHeader
	gop           *GOPHeader
	picture       *PictureHeader
	codingExt     *PictureCodingExtension
	quantExt      *QuantMatrixExtension
	slices        int
	endOfSequence bool
}

// ReadHeaders walks every start code unit of the access unit.
func (c *Codec) ReadHeaders(frame *parser.CodedFrame) (*parser.Picture, error) {
	c.pending = nil

	var au accessUnit
	for _, unit := range frame.NALUnits() {
		code := unit[0]
		switch {
		case code == SequenceHeaderCode:
			seq, err := parseSequenceHeader(unit[1:])
			if err != nil {
				return nil, err
			}
			au.sequence = seq
		case code == ExtensionStartCode:
			if err := c.readExtension(unit[1:], &au); err != nil {
				return nil, err
			}
		case code == GroupStartCode:
			gop, err := parseGOPHeader(unit[1:])
			if err != nil {
				return nil, err
			}
			au.gop = gop
		case code == PictureStartCode:
			if au.picture != nil {
				c.log.Debug("Ignoring second picture header in the access unit")
				continue
			}
			ph, err := parsePictureHeader(unit[1:])
			if err != nil {
				return nil, err
			}
			au.picture = ph
		case code >= SliceStartFirst && code <= SliceStartLast:
			if au.picture == nil {
				return nil, errors.NewPartialFrameParametersError("slice without a picture header")
			}
			au.slices++
		case code == SequenceEndCode:
			if au.picture == nil {
				c.endSequence()
			} else {
				au.endOfSequence = true
			}
		case code == UserDataStartCode, code == SequenceErrorCode:
		default:
			c.log.WithField("start_code", code).Debug("Skipping unhandled start code")
		}
	}

	if au.sequence != nil {
		if err := c.storeSequence(au.sequence); err != nil {
			return nil, err
		}
	}
	if au.picture == nil {
		return nil, nil
	}
	return c.startPicture(&au)
}

// readExtension attaches an extension to the header it follows.
func (c *Codec) readExtension(payload []byte, au *accessUnit) error {
	r := newHeaderReader(payload)
	id := r.u(4, "extension_start_code_identifier")
	if err := r.Err("extension"); err != nil {
		return err
	}

	switch id {
	case extSequence:
		ext, err := parseSequenceExtension(r)
		if err != nil {
			return err
		}
		if au.sequence == nil {
			c.log.Debug("Ignoring sequence extension without a sequence header")
			return nil
		}
		au.sequence.ExtensionPresent = true
		au.sequence.Extension = ext
	case extPictureCoding:
		if au.picture == nil {
			c.log.Debug("Ignoring picture coding extension without a picture header")
			return nil
		}
		ext, err := parsePictureCodingExtension(r)
		if err != nil {
			return err
		}
		au.codingExt = &ext
	case extQuantMatrix:
		q, err := parseQuantMatrixExtension(r)
		if err != nil {
			return err
		}
		au.quantExt = &q
	case extSequenceDisplay:
	default:
		c.log.WithField("extension_id", id).Debug("Skipping unhandled extension")
	}
	return nil
}

// storeSequence installs a sequence header. A resend identical to the
// current one is dropped.
func (c *Codec) storeSequence(seq *SequenceHeader) error {
	if c.sequence != nil && reflect.DeepEqual(c.sequence.Value(), seq) {
		return nil
	}
	b, err := c.seqPool.Get()
	if err != nil {
		return errors.WrapAllocationError(err, c.seqPool.Name())
	}
	*b.Value() = *seq
	if c.sequence != nil {
		c.sequence.Release()
	}
	c.sequence = b
	c.log.WithFields(map[string]interface{}{
		"width":       seq.Width(),
		"height":      seq.Height(),
		"frame_rate":  seq.FrameRate().Float64(),
		"progressive": seq.Progressive(),
		"mpeg1":       !seq.ExtensionPresent,
	}).Debug("Stored sequence header")
	return nil
}

// endSequence makes the next picture start a fresh display order.
func (c *Codec) endSequence() {
	c.order.StartGroup()
	c.clearNext = true
}

func (c *Codec) isSecondField(ph *PictureHeader, structure parser.PictureStructure) bool {
	return c.prev.valid &&
		structure.IsField() &&
		structure != c.prev.structure &&
		ph.TemporalReference == c.prev.temporalRef
}

func (c *Codec) startPicture(au *accessUnit) (*parser.Picture, error) {
	if c.sequence == nil {
		return nil, errors.NewNoStreamParametersError("picture before the first sequence header")
	}
	seq := c.sequence.Value()
	ph := au.picture

	if !c.seenKey {
		if ph.CodingType != parser.CodingI {
			c.log.WithField("temporal_reference", ph.TemporalReference).Debug("Skipping picture before first I picture")
			return nil, nil
		}
		c.seenKey = true
	}
	if au.slices == 0 {
		return nil, errors.NewPartialFrameParametersError("picture header without slices")
	}

	structure := parser.StructureFrame
	interlaced := !seq.Progressive()
	topFieldFirst := true
	if au.codingExt != nil {
		structure = au.codingExt.Structure()
		interlaced = !seq.Progressive() && !au.codingExt.ProgressiveFrame
		topFieldFirst = au.codingExt.TopFieldFirst
	}

	kind := parser.PictureNewFrame
	order := c.order
	group := c.group
	var key int64
	if c.isSecondField(ph, structure) {
		kind = parser.PictureSecondField
		key = c.prev.orderKey
		topFieldFirst = c.prev.structure == parser.StructureTopField
	} else {
		if au.gop != nil {
			order.StartGroup()
			group = groupState{closed: au.gop.ClosedGOP, brokenLink: au.gop.BrokenLink}
		}
		key = order.Key(int64(ph.TemporalReference), ph.CodingType != parser.CodingB)
		if structure.IsField() {
			topFieldFirst = structure == parser.StructureTopField
		}
	}

	fpBuf, err := c.fpPool.Get()
	if err != nil {
		return nil, errors.WrapAllocationError(err, c.fpPool.Name())
	}
	fp := fpBuf.Value()
	fp.Picture = *ph
	if au.codingExt != nil {
		fp.CodingExtensionPresent = true
		fp.CodingExtension = *au.codingExt
	}
	if au.gop != nil {
		fp.GOPPresent = true
		fp.GOP = *au.gop
	}
	if au.quantExt != nil {
		fp.QuantMatrixPresent = true
		fp.QuantMatrix = *au.quantExt
	}
	fp.SliceCount = au.slices
	fp.OrderKey = key

	newStream := c.sequence != c.active
	if newStream {
		if c.active != nil {
			c.active.Release()
		}
		c.active = c.sequence.Retain()
		c.log.WithFields(map[string]interface{}{
			"width":  seq.Width(),
			"height": seq.Height(),
		}).Info("Activated sequence header")
	}

	pic := &parser.Picture{
		Kind:                kind,
		KeyFrame:            ph.CodingType == parser.CodingI,
		ReferenceFrame:      ph.CodingType != parser.CodingB,
		IndependentFrame:    ph.CodingType == parser.CodingI,
		ClearsDeferred:      c.clearNext && kind == parser.PictureNewFrame,
		Structure:           structure,
		Interlaced:          interlaced,
		TopFieldFirst:       topFieldFirst,
		Width:               seq.Width(),
		Height:              seq.Height(),
		FrameRate:           seq.FrameRate(),
		NewStreamParameters: newStream,
		OrderKey:            key,
		ReorderLimit:        seq.ReorderLimit(),
		Attachments:         []buffer.Releaser{fpBuf, c.sequence.Retain()},
	}

	c.pending = &pendingPicture{
		pic:          pic,
		kind:         kind,
		fp:           fpBuf,
		codingType:   ph.CodingType,
		structure:    structure,
		temporalRef:  ph.TemporalReference,
		orderKey:     key,
		order:        order,
		group:        group,
		groupStart:   au.gop != nil && kind == parser.PictureNewFrame,
		backwardOnly: group.closed && group.anchors == 1,
	}
	if au.endOfSequence {
		c.log.Debug("Sequence end inside a picture access unit")
	}
	return pic, nil
}

// PrepareReferenceFrameList fills the forward and backward anchor lists.
func (c *Codec) PrepareReferenceFrameList(pic *parser.Picture, parsed *parser.ParsedFrameParameters) error {
	p := c.pending
	if p == nil || p.pic != pic {
		return errors.NewPartialFrameParametersError("no picture pending for reference lists")
	}
	return c.anchors.PrepareLists(p.codingType, p.backwardOnly, parsed)
}

// CommitPicture records the pending picture. Second fields share their
// frame's anchor slot.
func (c *Codec) CommitPicture(pic *parser.Picture, decodeIndex int) ([]int, error) {
	p := c.pending
	if p == nil || p.pic != pic {
		return nil, errors.NewPartialFrameParametersError("no picture pending for commit")
	}
	c.pending = nil

	var released []int
	if p.kind == parser.PictureNewFrame {
		if p.groupStart && (p.group.closed || p.group.brokenLink) {
			c.anchors.Invalidate()
		}
		released = c.anchors.Commit(p.codingType, decodeIndex, p.orderKey)
		if p.codingType != parser.CodingB {
			p.group.anchors++
		}
	}

	c.order = p.order
	c.group = p.group
	c.clearNext = false
	c.prev = fieldState{
		valid:       p.structure.IsField() && p.kind == parser.PictureNewFrame,
		structure:   p.structure,
		temporalRef: p.temporalRef,
		codingType:  p.codingType,
		orderKey:    p.orderKey,
	}
	p.fp.Value().DecodeIndex = decodeIndex
	return released, nil
}

// AbandonPicture forgets the pending picture.
func (c *Codec) AbandonPicture(pic *parser.Picture) {
	if c.pending != nil && c.pending.pic == pic {
		c.pending = nil
	}
}

// ResetReferenceFrameList drops both anchors.
func (c *Codec) ResetReferenceFrameList() []int {
	c.prev = fieldState{}
	c.pending = nil
	return c.anchors.Reset()
}

// Restart lets the next picture start prediction without an I picture.
func (c *Codec) Restart() {
	c.seenKey = true
	c.order.StartGroup()
	c.prev = fieldState{}
	c.pending = nil
}

// Resynchronize discards pictures until the next I picture.
func (c *Codec) Resynchronize() {
	c.seenKey = false
	c.prev = fieldState{}
	c.pending = nil
}

// Reset forgets all stream state including the sequence header.
func (c *Codec) Reset() {
	c.Resynchronize()
	c.anchors = parser.AnchorTracker{}
	c.order = *parser.NewOrderCounter(TemporalReferenceBits)
	c.group = groupState{}
	c.clearNext = false
	for _, b := range []*buffer.Buffer[SequenceHeader]{c.sequence, c.active} {
		if b != nil {
			b.Release()
		}
	}
	c.sequence, c.active = nil, nil
}

// ReferenceFrameCount returns the number of anchors held.
func (c *Codec) ReferenceFrameCount() int {
	return c.anchors.Count()
}

// Resources reports the free capacity of the parameter pools.
func (c *Codec) Resources() parser.Resources {
	return parser.Resources{
		FrameParametersFree:  c.fpPool.Free(),
		StreamParametersFree: c.seqPool.Free(),
	}
}
