package h264

import (
	"github.com/zsiec/frameparser/internal/bitstream"
	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
)

// Options configures a Codec.
type Options struct {
	// StreamParameterPoolSize is the number of SPS and of PPS buffers.
	StreamParameterPoolSize int
	// FrameParameterPoolSize is the number of FrameParameters buffers.
	FrameParameterPoolSize int
	Logger                 logger.Logger
}

// DefaultOptions returns pool sizes that cover a stream using every
// parameter set id once with room for resends in flight.
func DefaultOptions() Options {
	return Options{
		StreamParameterPoolSize: 32,
		FrameParameterPoolSize:  48,
	}
}

// fieldState remembers the last committed picture for second-field
// detection.
type fieldState struct {
	valid       bool
	structure   parser.PictureStructure
	frameNum    uint32
	reference   bool
	decodeIndex int
}

// pendingPicture is the picture between ReadHeaders and Commit or Abandon.
type pendingPicture struct {
	pic   *parser.Picture
	kind  parser.PictureKind
	fp    *buffer.Buffer[FrameParameters]
	slice *SliceHeader
	sps   *SequenceParameterSet
	poc   pocResult
	// table is the reference state the picture predicts from: the committed
	// table plus any frames inferred for a frame_num gap.
	table         referenceTable
	timing        dpbTiming
	endOfSequence bool
}

// Codec is the H.264 half of the frame parser.
type Codec struct {
	log    logger.Logger
	policy parser.Policy

	sps    *paramCache[SequenceParameterSet]
	pps    *paramCache[PictureParameterSet]
	fpPool *buffer.Pool[FrameParameters]

	activeSPS *buffer.Buffer[SequenceParameterSet]
	filter    *bitstream.AntiEmulationFilter
	sei       seiState

	seenKey bool
	poc     pocState
	dpb     referenceTable
	timing  dpbTiming
	prev    fieldState

	// The picture further slices may continue.
	open        *buffer.Buffer[FrameParameters]
	openHeader  *SliceHeader
	openSPS     *SequenceParameterSet
	openTable   referenceTable
	openPOC     int32
	openSummary parser.Picture

	pending *pendingPicture
}

var _ parser.Codec = (*Codec)(nil)

// New creates an H.264 codec.
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
	log = log.WithField("codec", "h264")

	return &Codec{
		log:    log,
		sps:    newParamCache[SequenceParameterSet]("h264_sps", MaxSPSCount, opts.StreamParameterPoolSize, log),
		pps:    newParamCache[PictureParameterSet]("h264_pps", MaxPPSCount, opts.StreamParameterPoolSize, log),
		fpPool: buffer.NewPool[FrameParameters]("h264_frame_parameters", opts.FrameParameterPoolSize, resetFrameParameters, log),
		filter: bitstream.NewAntiEmulationFilter(),
		dpb:    newReferenceTable(),
	}
}

// Name returns the codec name used in logs and metrics.
func (c *Codec) Name() string {
	return "h264"
}

// SetPolicy replaces the playback policy.
func (c *Codec) SetPolicy(p parser.Policy) {
	c.policy = p
}

func (c *Codec) lookupSPS(id uint32) *SequenceParameterSet {
	return c.sps.value(id)
}

func (c *Codec) lookupParams(ppsID uint32) (*PictureParameterSet, *SequenceParameterSet, error) {
	pps := c.pps.value(ppsID)
	if pps == nil {
		return nil, nil, errors.NewNoStreamParametersError("slice references unknown pps %d", ppsID)
	}
	sps := c.sps.value(pps.SPSID)
	if sps == nil {
		return nil, nil, errors.NewNoStreamParametersError("pps %d references unknown sps %d", ppsID, pps.SPSID)
	}
	return pps, sps, nil
}

// firstSlice is the slice that decides what an access unit carries.
type firstSlice struct {
	header   *SliceHeader
	pps      *PictureParameterSet
	sps      *SequenceParameterSet
	count    int
	mismatch bool
}

// ReadHeaders walks every NAL unit of the access unit.
func (c *Codec) ReadHeaders(frame *parser.CodedFrame) (*parser.Picture, error) {
	c.pending = nil

	var first *firstSlice
	endOfSequence := false

	for _, nal := range frame.NALUnits() {
		hdr, err := parseNALHeader(nal[0])
		if err != nil {
			return nil, err
		}

		switch hdr.unitType {
		case NALSPS:
			if err := c.readSPS(nal); err != nil {
				return nil, err
			}
		case NALPPS:
			if err := c.readPPS(nal); err != nil {
				return nil, err
			}
		case NALSEI:
			if err := parseSEI(bitstream.RemoveEmulationPrevention(nal[1:]), &c.sei, c.lookupSPS); err != nil {
				c.log.WithError(err).Debug("Ignoring malformed SEI")
			}
		case NALAccessUnitDelim, NALFiller:
		case NALEndOfSequence, NALEndOfStream:
			if first == nil {
				c.poc.endOfSequence()
			} else {
				endOfSequence = true
			}
		case NALSlice, NALIDRSlice:
			sh, pps, sps, err := parseSliceHeader(c.filter, nal, hdr, c.lookupParams)
			if err != nil {
				return nil, err
			}
			if first == nil {
				first = &firstSlice{header: sh, pps: pps, sps: sps, count: 1}
				continue
			}
			if firstSliceOfNewPicture(first.header, sh, first.sps.PicOrderCntType) {
				c.log.WithField("frame_num", sh.FrameNum).Debug("Ignoring slice of a second picture in the access unit")
				continue
			}
			first.count++
			if sh.SliceType != first.header.SliceType {
				first.mismatch = true
			}
		default:
			c.log.WithField("nal_unit_type", hdr.unitType.String()).Debug("Skipping unhandled NAL unit")
		}
	}

	if first == nil {
		return nil, nil
	}
	return c.startPicture(first, endOfSequence)
}

func (c *Codec) readSPS(nal []byte) error {
	sps, err := parseSPS(bitstream.RemoveEmulationPrevention(nal[1:]))
	if err != nil {
		return err
	}
	changed, err := c.sps.store(sps.ID, sps)
	if err != nil {
		return err
	}
	if changed {
		c.log.WithFields(map[string]interface{}{
			"sps_id":  sps.ID,
			"profile": sps.ProfileIDC,
			"level":   sps.LevelIDC,
			"width":   sps.Width(),
			"height":  sps.Height(),
		}).Debug("Stored sequence parameter set")
	}
	return nil
}

func (c *Codec) readPPS(nal []byte) error {
	pps, err := parsePPS(bitstream.RemoveEmulationPrevention(nal[1:]), c.lookupSPS)
	if err != nil {
		return err
	}
	changed, err := c.pps.store(pps.ID, pps)
	if err != nil {
		return err
	}
	if changed {
		c.log.WithFields(map[string]interface{}{
			"pps_id": pps.ID,
			"sps_id": pps.SPSID,
		}).Debug("Stored picture parameter set")
	}
	return nil
}

// keyPicture reports whether decoding may start at sh.
func (c *Codec) keyPicture(sh *SliceHeader) bool {
	if sh.IDR {
		return true
	}
	return c.policy.H264AllowNonIDRResynchronization && (sh.SliceType.IsIntra() || c.sei.recovery != nil)
}

func (c *Codec) isSecondField(sh *SliceHeader) bool {
	return c.prev.valid &&
		sh.FieldPic &&
		!sh.IDR &&
		sh.Structure() != c.prev.structure &&
		sh.FrameNum == c.prev.frameNum &&
		sh.Reference() == c.prev.reference
}

func (c *Codec) startPicture(first *firstSlice, endOfSequence bool) (*parser.Picture, error) {
	sh, pps, sps := first.header, first.pps, first.sps

	if c.openHeader != nil && !firstSliceOfNewPicture(c.openHeader, sh, sps.PicOrderCntType) {
		return c.continuation(first), nil
	}

	if !c.seenKey {
		if !c.keyPicture(sh) {
			c.sei.clear()
			c.log.WithField("frame_num", sh.FrameNum).Debug("Skipping picture before first key picture")
			return nil, nil
		}
		c.seenKey = true
		if !sh.IDR {
			c.poc.seed = true
			c.dpb.haveRefFrameNum = false
		}
	}
	if c.openHeader == nil && sh.FirstMbInSlice != 0 {
		c.sei.clear()
		return nil, errors.NewPartialFrameParametersError("picture starts at a slice other than the first")
	}

	spsBuf := c.sps.get(pps.SPSID)
	ppsBuf := c.pps.get(sh.PPSID)

	fpBuf, err := c.fpPool.Get()
	if err != nil {
		c.sei.clear()
		return nil, errors.WrapAllocationError(err, "h264_frame_parameters")
	}

	kind := parser.PictureNewFrame
	second := c.isSecondField(sh)
	if second {
		kind = parser.PictureSecondField
	}

	table := c.dpb
	if !sh.IDR && !second {
		if gap := table.fillGaps(sps, sh.FrameNum); gap > 0 {
			c.log.WithFields(map[string]interface{}{
				"frame_num": sh.FrameNum,
				"missing":   gap,
				"allowed":   sps.GapsInFrameNumAllowed,
			}).Debug("Inferred frames for frame_num gap")
		}
	}
	pocRes := c.poc.computePOC(sps, sh)

	fp := fpBuf.Value()
	fp.Slice = *sh
	fp.SliceCount = first.count
	fp.TopFieldOrderCnt = pocRes.top
	fp.BottomFieldOrderCnt = pocRes.bottom
	fp.PicOrderCnt = pocRes.poc
	fp.ExtendedPicOrderCnt = pocRes.extended
	fp.Scaling = pps.EffectiveScaling(sps)
	c.takeSEI(fp, sps)

	var timing *PicTiming
	if fp.PicTimingPresent {
		timing = &fp.PicTiming
	}
	dpbKey, dpbValid, nextTiming := c.timing.key(timing, fp.BufferingPeriodPresent)
	if c.policy.H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering {
		dpbValid = false
	}
	fp.DpbKey, fp.DpbKeyValid = dpbKey, dpbValid

	newStream := spsBuf != c.activeSPS
	if newStream {
		if c.activeSPS != nil {
			c.activeSPS.Release()
		}
		c.activeSPS = spsBuf.Retain()
		c.log.WithFields(map[string]interface{}{
			"sps_id": sps.ID,
			"width":  sps.Width(),
			"height": sps.Height(),
		}).Info("Activated sequence parameter set")
	}

	pic := &parser.Picture{
		Kind:                kind,
		KeyFrame:            sh.IDR || (sh.SliceType.IsIntra() && (fp.RecoveryPointPresent || c.policy.H264AllowNonIDRResynchronization)),
		ReferenceFrame:      sh.Reference(),
		IndependentFrame:    sh.SliceType.IsIntra(),
		IDR:                 sh.IDR,
		ClearsDeferred:      sh.IDR || sh.HasMMCO5(),
		NoOutputOfPriorPics: sh.IDR && sh.NoOutputOfPriorPics,
		SliceTypeMismatch:   first.mismatch,
		Structure:           sh.Structure(),
		Interlaced:          c.interlaced(sps, sh, fp),
		TopFieldFirst:       c.topFieldFirst(sh, fp, second),
		Width:               sps.Width(),
		Height:              sps.Height(),
		FrameRate:           sps.FrameRate(),
		NewStreamParameters: newStream,
		OrderKey:            pocRes.extended,
		DpbKey:              dpbKey,
		DpbKeyValid:         dpbValid,
		ReorderLimit:        sps.ReorderLimit(),
		Attachments:         []buffer.Releaser{fpBuf, spsBuf.Retain(), ppsBuf.Retain()},
	}

	c.setOpen(fpBuf.Retain(), sh, sps, table, pocRes.poc, pic)
	c.pending = &pendingPicture{
		pic:           pic,
		kind:          kind,
		fp:            fpBuf,
		slice:         sh,
		sps:           sps,
		poc:           pocRes,
		table:         table,
		timing:        nextTiming,
		endOfSequence: endOfSequence,
	}
	return pic, nil
}

// takeSEI moves the SEI collected for this picture into fp.
func (c *Codec) takeSEI(fp *FrameParameters, sps *SequenceParameterSet) {
	if len(c.sei.picTiming) > 0 {
		pt, err := parsePicTiming(c.sei.picTiming, sps)
		if err != nil {
			c.log.WithError(err).Debug("Ignoring malformed pic timing")
		} else {
			fp.PicTimingPresent = true
			fp.PicTiming = *pt
		}
	}
	if bp := c.sei.bufferingPeriod; bp != nil {
		fp.BufferingPeriodPresent = true
		fp.BufferingPeriod = *bp
	}
	if rp := c.sei.recovery; rp != nil {
		fp.RecoveryPointPresent = true
		fp.RecoveryPoint = *rp
	}
	if ps := c.sei.panScan; ps != nil && c.policy.PanScanActive() {
		fp.PanScanPresent = true
		fp.PanScan = *ps
	}
	c.sei.clear()
}

// interlaced follows pic_struct when present, else the coding structure.
func (c *Codec) interlaced(sps *SequenceParameterSet, sh *SliceHeader, fp *FrameParameters) bool {
	if fp.PicTimingPresent && fp.PicTiming.PicStructPresent {
		switch fp.PicTiming.PicStruct {
		case 1, 2:
			return c.policy.H264TreatTopBottomPictureStructAsInterlaced
		case 3, 4, 5, 6:
			return true
		default:
			return false
		}
	}
	if sh.FieldPic {
		return true
	}
	return !sps.FrameMbsOnly
}

func (c *Codec) topFieldFirst(sh *SliceHeader, fp *FrameParameters, second bool) bool {
	if fp.PicTimingPresent && fp.PicTiming.PicStructPresent {
		switch fp.PicTiming.PicStruct {
		case 3, 5:
			return true
		case 4, 6:
			return false
		}
	}
	if sh.FieldPic {
		if second {
			return c.prev.structure == parser.StructureTopField
		}
		return !sh.BottomField
	}
	return fp.TopFieldOrderCnt <= fp.BottomFieldOrderCnt
}

// setOpen records the picture later access units may continue.
func (c *Codec) setOpen(fp *buffer.Buffer[FrameParameters], sh *SliceHeader, sps *SequenceParameterSet, table referenceTable, poc int32, pic *parser.Picture) {
	if c.open != nil {
		c.open.Release()
	}
	c.open = fp
	c.openHeader = sh
	c.openSPS = sps
	c.openTable = table
	c.openPOC = poc
	c.openSummary = *pic
	c.openSummary.Attachments = nil
}

func (c *Codec) clearOpen() {
	if c.open != nil {
		c.open.Release()
	}
	c.open = nil
	c.openHeader = nil
	c.openSPS = nil
	c.openSummary = parser.Picture{}
}

// continuation builds the picture for slices that continue the open
// picture in a later access unit.
func (c *Codec) continuation(first *firstSlice) *parser.Picture {
	sh := first.header
	pic := c.openSummary
	pic.Kind = parser.PictureContinuation
	pic.NewStreamParameters = false
	pic.SliceTypeMismatch = first.mismatch || sh.SliceType != c.openHeader.SliceType
	pic.Attachments = []buffer.Releaser{c.open.Retain()}
	c.sei.clear()

	c.pending = &pendingPicture{
		pic:   &pic,
		kind:  parser.PictureContinuation,
		slice: sh,
		sps:   c.openSPS,
		poc:   pocResult{poc: c.openPOC},
		table: c.openTable,
	}
	return &pic
}

// PrepareReferenceFrameList builds the reference lists of the pending
// picture from its first slice in the access unit.
func (c *Codec) PrepareReferenceFrameList(pic *parser.Picture, parsed *parser.ParsedFrameParameters) error {
	p := c.pending
	if p == nil || p.pic != pic {
		return errors.NewPartialFrameParametersError("no picture pending for reference lists")
	}
	table := p.table
	return table.buildLists(p.sps, p.slice, p.poc.poc, c.policy.H264BFramesRequireTwoReferences, parsed)
}

// CommitPicture applies reference marking for the pending picture and
// advances the prediction state.
func (c *Codec) CommitPicture(pic *parser.Picture, decodeIndex int) ([]int, error) {
	p := c.pending
	if p == nil || p.pic != pic || p.kind == parser.PictureContinuation {
		return nil, errors.NewPartialFrameParametersError("no picture pending for commit")
	}
	c.pending = nil

	before := c.dpb.decodeIndices()
	c.dpb = p.table
	sh := p.slice

	if sh.Reference() {
		pair := -1
		if p.kind == parser.PictureSecondField && c.prev.reference {
			pair = c.dpb.slotOf(c.prev.decodeIndex)
		}
		res := c.dpb.mark(p.sps, &currentPicture{
			structure:   sh.Structure(),
			frameNum:    sh.FrameNum,
			top:         p.poc.top,
			bottom:      p.poc.bottom,
			decodeIndex: decodeIndex,
			idr:         sh.IDR,
			longTerm:    sh.LongTermReference,
			adaptive:    sh.AdaptiveRefPicMarking,
			mmcos:       sh.MMCOs,
			pairSlot:    pair,
		})
		if len(res.evicted) > 0 {
			c.log.WithFields(map[string]interface{}{
				"decode_index": decodeIndex,
				"evicted":      res.evicted,
				"num_ref":      p.sps.NumRefFrames,
			}).Warn("Reference frame table overflow, evicted oldest references")
		}
	}

	c.poc = p.poc.next
	if p.endOfSequence {
		c.poc.endOfSequence()
	}
	c.timing = p.timing
	c.prev = fieldState{
		valid:       sh.FieldPic && p.kind != parser.PictureSecondField,
		structure:   sh.Structure(),
		frameNum:    sh.FrameNum,
		reference:   sh.Reference(),
		decodeIndex: decodeIndex,
	}
	if p.fp != nil {
		p.fp.Value().DecodeIndex = decodeIndex
	}

	return released(before, c.dpb.decodeIndices()), nil
}

// released returns the members of before missing from after. Both are
// sorted.
func released(before, after []int) []int {
	var out []int
	j := 0
	for _, idx := range before {
		for j < len(after) && after[j] < idx {
			j++
		}
		if j < len(after) && after[j] == idx {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// AbandonPicture forgets the pending picture without touching reference or
// prediction state.
func (c *Codec) AbandonPicture(pic *parser.Picture) {
	if c.pending != nil && c.pending.pic == pic {
		c.pending = nil
	}
}

// ResetReferenceFrameList drops every reference.
func (c *Codec) ResetReferenceFrameList() []int {
	held := c.dpb.clear()
	c.prev = fieldState{}
	c.pending = nil
	c.clearOpen()
	return held
}

// Restart lets the next picture start prediction without waiting for a
// key picture.
func (c *Codec) Restart() {
	c.seenKey = true
	c.poc.endOfSequence()
	c.dpb.haveRefFrameNum = false
	c.timing = dpbTiming{}
	c.prev = fieldState{}
	c.pending = nil
	c.clearOpen()
}

// Resynchronize discards pictures until the next key picture.
func (c *Codec) Resynchronize() {
	c.seenKey = false
	c.sei.clear()
	c.timing = dpbTiming{}
	c.prev = fieldState{}
	c.pending = nil
	c.clearOpen()
}

// Reset forgets all stream state including parameter sets.
func (c *Codec) Reset() {
	c.Resynchronize()
	c.dpb = newReferenceTable()
	c.poc = pocState{}
	if c.activeSPS != nil {
		c.activeSPS.Release()
		c.activeSPS = nil
	}
	c.sps.clear()
	c.pps.clear()
}

// ReferenceFrameCount returns the number of frames held for reference.
func (c *Codec) ReferenceFrameCount() int {
	return c.dpb.count()
}

// Resources reports the free capacity of the parameter pools.
func (c *Codec) Resources() parser.Resources {
	stream := c.sps.free()
	if n := c.pps.free(); n < stream {
		stream = n
	}
	return parser.Resources{
		FrameParametersFree:  c.fpPool.Free(),
		StreamParametersFree: stream,
	}
}
