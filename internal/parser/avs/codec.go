package avs

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

// DefaultOptions returns the pool sizes used when Options leaves them zero.
func DefaultOptions() Options {
	return Options{
		StreamParameterPoolSize: 8,
		FrameParameterPoolSize:  32,
	}
}

// FrameParameters is everything the codec derived for one picture.
type FrameParameters struct {
	Picture     PictureHeader
	SliceCount  int
	AfterEdit   bool
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

type pendingPicture struct {
	pic        *parser.Picture
	fp         *buffer.Buffer[FrameParameters]
	header     *PictureHeader
	orderKey   int64
	order      parser.OrderCounter
	invalidate bool
}

// Codec is the AVS half of the frame parser.
type Codec struct {
	log    logger.Logger
	policy parser.Policy

	seqPool *buffer.Pool[SequenceHeader]
	fpPool  *buffer.Pool[FrameParameters]

	sequence *buffer.Buffer[SequenceHeader]
	active   *buffer.Buffer[SequenceHeader]

	seenKey bool
	anchors parser.AnchorTracker
	order   parser.OrderCounter
	// edited is set by a video edit code until the next I picture commits.
	edited    bool
	clearNext bool

	pending *pendingPicture
}

var _ parser.Codec = (*Codec)(nil)

// New creates an AVS codec.
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
	log = log.WithField("codec", "avs")

	return &Codec{
		log:     log,
		seqPool: buffer.NewPool[SequenceHeader]("avs_sequence_header", opts.StreamParameterPoolSize, nil, log),
		fpPool:  buffer.NewPool[FrameParameters]("avs_frame_parameters", opts.FrameParameterPoolSize, resetFrameParameters, log),
		order:   *parser.NewOrderCounter(PictureDistanceBits),
	}
}

// Name returns the codec name used in logs and metrics.
func (c *Codec) Name() string {
	return "avs"
}

// SetPolicy replaces the playback policy.
func (c *Codec) SetPolicy(p parser.Policy) {
	c.policy = p
}

// ReadHeaders walks every start code unit of the access unit.
func (c *Codec) ReadHeaders(frame *parser.CodedFrame) (*parser.Picture, error) {
	c.pending = nil

	var ph *PictureHeader
	slices := 0
	edit := false

	for _, unit := range frame.NALUnits() {
		code := unit[0]
		switch {
		case code <= SliceStartLast:
			if ph == nil {
				return nil, errors.NewPartialFrameParametersError("slice without a picture header")
			}
			slices++
		case code == SequenceStartCode:
			seq, err := parseSequenceHeader(unit[1:])
			if err != nil {
				return nil, err
			}
			if err := c.storeSequence(seq); err != nil {
				return nil, err
			}
		case code == IPictureStartCode, code == PBPictureStartCode:
			if ph != nil {
				c.log.Debug("Ignoring second picture header in the access unit")
				continue
			}
			if c.sequence == nil {
				return nil, errors.NewNoStreamParametersError("picture before the first sequence header")
			}
			hdr, err := parsePictureHeader(code, unit[1:], c.sequence.Value())
			if err != nil {
				return nil, err
			}
			ph = hdr
		case code == VideoEditCode:
			edit = true
		case code == SequenceEndCode:
			if ph == nil {
				c.order.StartGroup()
				c.clearNext = true
			} else {
				c.log.Debug("Sequence end inside a picture access unit")
			}
		case code == UserDataStartCode, code == ExtensionStartCode:
		default:
			c.log.WithField("start_code", code).Debug("Skipping unhandled start code")
		}
	}

	if edit {
		c.edited = true
	}
	if ph == nil {
		return nil, nil
	}
	if slices == 0 {
		return nil, errors.NewPartialFrameParametersError("picture header without slices")
	}
	return c.startPicture(ph, slices)
}

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
		"profile": seq.ProfileID,
		"level":   seq.LevelID,
		"width":   seq.HorizontalSize,
		"height":  seq.VerticalSize,
	}).Debug("Stored sequence header")
	return nil
}

func (c *Codec) startPicture(ph *PictureHeader, slices int) (*parser.Picture, error) {
	if !c.seenKey {
		if ph.CodingType != parser.CodingI {
			c.log.WithField("picture_distance", ph.PictureDistance).Debug("Skipping picture before first I picture")
			return nil, nil
		}
		c.seenKey = true
	}
	seq := c.sequence.Value()

	order := c.order
	key := order.Key(int64(ph.PictureDistance), ph.CodingType != parser.CodingB)

	fpBuf, err := c.fpPool.Get()
	if err != nil {
		return nil, errors.WrapAllocationError(err, c.fpPool.Name())
	}
	fp := fpBuf.Value()
	fp.Picture = *ph
	fp.SliceCount = slices
	fp.AfterEdit = c.edited
	fp.OrderKey = key

	newStream := c.sequence != c.active
	if newStream {
		if c.active != nil {
			c.active.Release()
		}
		c.active = c.sequence.Retain()
		c.log.WithFields(map[string]interface{}{
			"width":  seq.HorizontalSize,
			"height": seq.VerticalSize,
		}).Info("Activated sequence header")
	}

	pic := &parser.Picture{
		Kind:                parser.PictureNewFrame,
		KeyFrame:            ph.CodingType == parser.CodingI,
		ReferenceFrame:      ph.CodingType != parser.CodingB,
		IndependentFrame:    ph.CodingType == parser.CodingI,
		ClearsDeferred:      c.clearNext,
		Structure:           parser.StructureFrame,
		Interlaced:          ph.Interlaced(),
		TopFieldFirst:       ph.TopFieldFirst || ph.ProgressiveFrame,
		Width:               int(seq.HorizontalSize),
		Height:              int(seq.VerticalSize),
		FrameRate:           seq.FrameRate(),
		NewStreamParameters: newStream,
		OrderKey:            key,
		ReorderLimit:        seq.ReorderLimit(),
		Attachments:         []buffer.Releaser{fpBuf, c.sequence.Retain()},
	}

	c.pending = &pendingPicture{
		pic:        pic,
		fp:         fpBuf,
		header:     ph,
		orderKey:   key,
		order:      order,
		invalidate: c.edited && ph.CodingType == parser.CodingI,
	}
	return pic, nil
}

// PrepareReferenceFrameList fills the anchor lists. A P picture without
// picture_reference_flag predicts from both anchors.
func (c *Codec) PrepareReferenceFrameList(pic *parser.Picture, parsed *parser.ParsedFrameParameters) error {
	p := c.pending
	if p == nil || p.pic != pic {
		return errors.NewPartialFrameParametersError("no picture pending for reference lists")
	}
	if err := c.anchors.PrepareLists(p.header.CodingType, false, parsed); err != nil {
		return err
	}
	if p.header.CodingType == parser.CodingP && !p.header.PictureReferenceFlag {
		c.anchors.AppendOlder(parsed)
	}
	return nil
}

// CommitPicture records the pending picture as decoded at decodeIndex.
func (c *Codec) CommitPicture(pic *parser.Picture, decodeIndex int) ([]int, error) {
	p := c.pending
	if p == nil || p.pic != pic {
		return nil, errors.NewPartialFrameParametersError("no picture pending for commit")
	}
	c.pending = nil

	if p.invalidate {
		c.anchors.Invalidate()
		c.edited = false
	}
	released := c.anchors.Commit(p.header.CodingType, decodeIndex, p.orderKey)
	c.order = p.order
	c.clearNext = false
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
	c.pending = nil
	return c.anchors.Reset()
}

// Restart lets the next picture start prediction without an I picture.
func (c *Codec) Restart() {
	c.seenKey = true
	c.order.StartGroup()
	c.pending = nil
}

// Resynchronize discards pictures until the next I picture.
func (c *Codec) Resynchronize() {
	c.seenKey = false
	c.pending = nil
}

// Reset forgets all stream state including the sequence header.
func (c *Codec) Reset() {
	c.Resynchronize()
	c.anchors = parser.AnchorTracker{}
	c.order = *parser.NewOrderCounter(PictureDistanceBits)
	c.edited = false
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
