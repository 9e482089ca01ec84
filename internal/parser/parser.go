// Package parser turns collated access units into decode-ordered work items
// annotated with display order, time stamps and reference lists. The
// syntax-specific work is delegated to a Codec.
package parser

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/events"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// ErrHalted is returned by Input after Halt until the parser is Reset.
var ErrHalted = stderrors.New("parser halted")

// minOutputSlots is the room the output ring must have before an access
// unit is accepted: the frame plus the commands its marking may issue.
const minOutputSlots = 4

// Direction is the playback direction.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionReverse
)

func (d Direction) String() string {
	if d == DirectionReverse {
		return "reverse"
	}
	return "forward"
}

// Options configures a Parser.
type Options struct {
	StreamID string

	DecodeBufferCount   int
	ManifestorReserve   int
	OutputRingSize      int
	ReverseFailureLimit int
	ResyncAfterFailures int

	StreamErrorRate  float64
	StreamErrorBurst int

	Policy    Policy
	Logger    logger.Logger
	Events    events.Sink
	Sequencer Sequencer
}

// OptionsFromConfig builds parser options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := PolicyFromConfig(&cfg.Policy)
	if err != nil {
		return Options{}, fmt.Errorf("policy: %w", err)
	}
	return Options{
		DecodeBufferCount:   cfg.Parser.DecodeBufferCount,
		ManifestorReserve:   cfg.Parser.ManifestorReserve,
		OutputRingSize:      cfg.Parser.OutputRingSize,
		ReverseFailureLimit: cfg.Parser.ReverseFailureLimit,
		ResyncAfterFailures: cfg.Parser.ResyncAfterFailures,
		StreamErrorRate:     cfg.Logging.StreamErrorRate,
		StreamErrorBurst:    cfg.Logging.StreamErrorBurst,
		Policy:              policy,
	}, nil
}

// DefaultOptions returns the options produced by the default configuration.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// Stats is a snapshot of parser counters.
type Stats struct {
	FramesParsed          int64  `json:"frames_parsed"`
	Discarded             int64  `json:"discarded"`
	DeferredDepth         int    `json:"deferred_depth"`
	ReferenceFrames       int    `json:"reference_frames"`
	ReverseFailures       int    `json:"reverse_failures"`
	SmoothReverseDisabled bool   `json:"smooth_reverse_disabled"`
	Unplayable            bool   `json:"unplayable"`
	Direction             string `json:"direction"`
	TimeWraps             int    `json:"time_wraps"`
}

// openPicture is the picture whose slices and fields are still arriving.
type openPicture struct {
	decodeIndex int

	// held pictures get their decode index at reverse unwind.
	held    bool
	dropped bool

	entry *displayEntry
	run   *reverseRun
}

// Parser runs the access unit pipeline for one stream. Input must be
// called from one goroutine at a time; Halt, Reset and the setters may be
// called from any goroutine and wait for the Input in progress.
type Parser struct {
	mu sync.RWMutex

	id      string
	codec   Codec
	opts    Options
	policy  Policy
	logger  logger.Logger
	limited *logger.RateLimitedLogger
	errs    *errors.Handler
	events  events.Sink

	output     *buffer.Ring[OutputItem]
	sequencer  Sequencer
	translator *timestamp.Translator
	seq        *sequenceGenerator

	direction Direction
	deferred  *deferredQueue
	reverse   *reverseEngine
	current   *openPicture

	nextDisplay      int
	lastDisplayIndex int
	lastDisplayPTS   int64
	rateEstimator    *timestamp.RateEstimator
	streamRate       timestamp.Rational
	frameRate        timestamp.Rational
	width, height    int

	afterJump   bool
	unplayable  bool
	halted      bool
	refFailures int

	framesParsed atomic.Int64
	discarded    atomic.Int64
	snapshot     statsSnapshot
}

// statsSnapshot mirrors the state Stats reports. It is published by the
// goroutine that changed the state, so Stats never touches parse state.
type statsSnapshot struct {
	deferredDepth   atomic.Int64
	referenceFrames atomic.Int64
	reverseFailures atomic.Int64
	reverseDisabled atomic.Bool
	unplayable      atomic.Bool
	direction       atomic.Int32
	wraps           atomic.Int64
}

// New creates a parser driving codec.
func New(codec Codec, opts Options) *Parser {
	if opts.DecodeBufferCount <= 0 {
		opts.DecodeBufferCount = 20
	}
	if opts.OutputRingSize <= 0 {
		opts.OutputRingSize = 64
	}
	if opts.ReverseFailureLimit <= 0 {
		opts.ReverseFailureLimit = 4
	}
	if opts.ResyncAfterFailures <= 0 {
		opts.ResyncAfterFailures = 8
	}
	if opts.StreamErrorRate <= 0 {
		opts.StreamErrorRate = 5
	}
	if opts.StreamErrorBurst <= 0 {
		opts.StreamErrorBurst = 10
	}

	id := logger.NewParserID()
	base := opts.Logger
	if base == nil {
		base = logger.NewNullLogger()
	}
	log := base.WithFields(map[string]interface{}{
		"component": "parser",
		"parser_id": id,
		"stream_id": opts.StreamID,
		"codec":     codec.Name(),
	})

	p := &Parser{
		id:            id,
		codec:         codec,
		opts:          opts,
		policy:        opts.Policy,
		logger:        log,
		limited:       logger.NewRateLimitedLogger(log, opts.StreamErrorRate, opts.StreamErrorBurst),
		errs:          errors.NewHandler(log),
		events:        opts.Events,
		output:        buffer.NewRing[OutputItem](opts.OutputRingSize),
		translator:    timestamp.NewTranslator(),
		seq:           newSequenceGenerator(),
		deferred:      newDeferredQueue(),
		reverse:       newReverseEngine(),
		rateEstimator: timestamp.NewRateEstimator(8),
	}
	p.sequencer = opts.Sequencer
	if p.sequencer == nil {
		p.sequencer = &ringSequencer{ring: p.output}
	}
	p.resetDisplayTiming()
	p.applyPolicy(opts.Policy)
	p.publishStats()

	return p
}

// ID returns the parser instance id used in logs.
func (p *Parser) ID() string {
	return p.id
}

// Codec returns the codec, which also answers capability queries.
func (p *Parser) Codec() Codec {
	return p.codec
}

// Output returns the ring decode work is pushed to.
func (p *Parser) Output() *buffer.Ring[OutputItem] {
	return p.output
}

// SetPolicy replaces the playback policy.
func (p *Parser) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyPolicy(policy)
}

func (p *Parser) applyPolicy(policy Policy) {
	p.policy = policy
	p.deferred.allowDpb = !policy.H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering
	p.codec.SetPolicy(policy)
}

// Input parses one access unit. The caller keeps its own reference to
// frame; the parser takes the references it needs.
func (p *Parser) Input(frame *buffer.Buffer[CodedFrame]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	start := time.Now()
	defer func() {
		p.publishStats()
		metrics.ObserveParseDuration(p.codec.Name(), time.Since(start))
	}()

	if p.halted {
		return ErrHalted
	}
	if p.unplayable {
		return errors.ErrStreamUnplayable
	}
	if p.output.Free() < minOutputSlots {
		return p.handleError(errors.WrapAllocationError(buffer.ErrRingFull, "output ring"))
	}

	cf := frame.Value()
	if cf.Metadata.Discontinuity {
		p.discontinuity()
	} else if cf.Metadata.FlushBeforeDecode {
		p.callInSequence(Command{Kind: ReleasePartialDecodeBuffers, DecodeIndex: InvalidIndex})
	}
	if p.direction == DirectionReverse && cf.Metadata.ReverseGroupStart && len(p.reverse.runs) > 0 {
		p.unwindReverse()
	}

	pic, err := p.codec.ReadHeaders(cf)
	if err != nil {
		return p.handleError(err)
	}
	if pic == nil {
		return nil
	}

	return p.processPicture(frame, pic)
}

// processPicture runs list preparation, commit and queueing for a picture.
func (p *Parser) processPicture(frame *buffer.Buffer[CodedFrame], pic *Picture) error {
	cf := frame.Value()
	reverse := p.direction == DirectionReverse
	smooth := reverse && !p.reverse.disabled

	if pic.Kind != PictureNewFrame && (p.current == nil || p.current.dropped) {
		dropped := p.current != nil
		p.codec.AbandonPicture(pic)
		pic.Release()
		if dropped {
			return nil
		}
		return p.handleError(errors.NewPartialFrameParametersError("picture continues without a started picture"))
	}
	if reverse && p.reverse.disabled && pic.Kind == PictureNewFrame && !pic.KeyFrame {
		p.codec.AbandonPicture(pic)
		pic.Release()
		p.current = &openPicture{decodeIndex: InvalidIndex, dropped: true}
		return nil
	}

	parsed := p.baseParameters(cf, pic)

	unsatisfied := false
	if err := p.codec.PrepareReferenceFrameList(pic, &parsed); err != nil {
		if !smooth || !stderrors.Is(err, errors.ErrInsufficientReferenceFrames) {
			p.codec.AbandonPicture(pic)
			pic.Release()
			if pic.Kind == PictureNewFrame {
				p.current = nil
			}
			return p.handleError(err)
		}
		unsatisfied = true
	}

	held := false
	if pic.Kind == PictureNewFrame {
		held = smooth && (unsatisfied || !pic.ReferenceFrame)
	} else {
		held = p.current.held
	}

	decodeIndex := InvalidIndex
	switch {
	case held:
	case pic.Kind == PictureNewFrame:
		decodeIndex = p.seq.Next()
	default:
		decodeIndex = p.seq.Reuse()
	}

	var released []int
	switch {
	case pic.Kind == PictureContinuation:
	case unsatisfied:
		p.codec.AbandonPicture(pic)
	default:
		var err error
		released, err = p.codec.CommitPicture(pic, decodeIndex)
		if err != nil {
			if pic.Kind == PictureNewFrame && !held {
				p.seq.UndoLast()
			}
			p.codec.AbandonPicture(pic)
			pic.Release()
			if pic.Kind == PictureNewFrame {
				p.current = nil
			}
			return p.handleError(err)
		}
	}

	parsed.DecodeFrameIndex = decodeIndex
	pic.attachTo(frame)
	cf.setParameters(parsed)

	if pic.Kind == PictureNewFrame {
		p.current = &openPicture{decodeIndex: decodeIndex, held: held}
		p.afterJump = false
		if !unsatisfied {
			p.refFailures = 0
		}
	}
	p.framesParsed.Add(1)
	metrics.IncrementFramesParsed(p.codec.Name())
	metrics.SetReferenceFrames(p.codec.Name(), p.codec.ReferenceFrameCount())

	if reverse {
		if err := p.placeReverse(frame, pic, &parsed, unsatisfied); err != nil {
			return err
		}
		p.reverse.releases = append(p.reverse.releases, released...)
		return nil
	}

	p.placeForward(frame, pic, &parsed)
	if err := p.queueForDecode(frame); err != nil {
		return err
	}
	p.issueReleases(released)
	return nil
}

// baseParameters fills the parts of ParsedFrameParameters that come from
// the access unit metadata and the codec's picture summary.
func (p *Parser) baseParameters(cf *CodedFrame, pic *Picture) ParsedFrameParameters {
	if pic.Kind == PictureNewFrame {
		p.noteStream(pic)
	}

	parsed := newParsedFrameParameters()
	md := cf.Metadata
	if md.PlaybackTimeValid {
		parsed.NativePlaybackTime = md.PlaybackTime
		parsed.NormalizedPlaybackTime = p.translator.NativeToNormalized(md.PlaybackTime)
	}
	if md.DecodeTimeValid {
		parsed.NativeDecodeTime = md.DecodeTime
		parsed.NormalizedDecodeTime = p.translator.NativeToNormalized(md.DecodeTime)
	}

	parsed.KeyFrame = pic.KeyFrame
	parsed.ReferenceFrame = pic.ReferenceFrame
	parsed.IndependentFrame = pic.IndependentFrame && !pic.SliceTypeMismatch
	parsed.FirstParsedParametersForOutputFrame = pic.Kind == PictureNewFrame
	parsed.FirstParsedParametersAfterInputJump = p.afterJump && pic.Kind == PictureNewFrame
	parsed.NewStreamParameters = pic.NewStreamParameters
	parsed.NewFrameParameters = true
	parsed.PictureStructure = pic.Structure
	parsed.Interlaced = pic.Interlaced
	parsed.TopFieldFirst = pic.TopFieldFirst
	parsed.Width = pic.Width
	parsed.Height = pic.Height
	parsed.FrameRate = p.frameRate
	parsed.Decimation = p.policy.DecimateDecoderOutput
	parsed.DisplayOrderKey = pic.OrderKey
	return parsed
}

// queueForDecode pushes frame to the output ring with its own reference.
func (p *Parser) queueForDecode(frame *buffer.Buffer[CodedFrame]) error {
	if err := p.output.Push(OutputItem{Frame: frame.Retain()}); err != nil {
		frame.Release()
		return p.handleError(errors.WrapAllocationError(err, "output ring"))
	}
	return nil
}

// issueReleases tells the decoder, in sequence, which frames stopped being
// references.
func (p *Parser) issueReleases(indices []int) {
	for _, idx := range indices {
		if idx == InvalidIndex {
			continue
		}
		p.callInSequence(Command{Kind: ReleaseReferenceFrame, DecodeIndex: idx})
	}
}

func (p *Parser) callInSequence(cmd Command) {
	if err := p.sequencer.CallInSequence(cmd); err != nil {
		p.logger.WithError(err).WithField("decode_index", cmd.DecodeIndex).Error("Failed to issue command in sequence")
	}
}

// handleError applies the disposition of err and returns what the caller
// should see.
func (p *Parser) handleError(err error) error {
	d := errors.Classify(err)
	fields := map[string]interface{}{
		"error_type":  string(errors.TypeOf(err)),
		"disposition": d.String(),
	}

	switch d {
	case errors.DispositionNone:
		return nil
	case errors.DispositionIgnore:
		p.logger.WithError(err).Debug("Ignoring unhandled header")
		return nil
	case errors.DispositionMarkUnplayable:
		p.errs.Handle(err, fields)
		p.unplayable = true
		p.discarded.Add(1)
		metrics.IncrementDiscarded(p.codec.Name(), string(errors.TypeOf(err)))
		p.emit(events.TypeStreamUnplayable, map[string]interface{}{"error": err.Error()})
		return err
	case errors.DispositionDiscardOrResync:
		p.refFailures++
		if p.refFailures >= p.opts.ResyncAfterFailures {
			p.refFailures = 0
			p.codec.Resynchronize()
			p.logger.WithField("failures", p.opts.ResyncAfterFailures).Warn("Repeated reference failures, waiting for next key picture")
		}
	}

	p.discarded.Add(1)
	metrics.IncrementDiscarded(p.codec.Name(), string(errors.TypeOf(err)))
	fields["error"] = err.Error()
	p.limited.WarnCategory(logger.CategoryStreamError, "Access unit discarded", fields)
	return err
}

// discontinuity finishes everything pending and forgets prediction state
// before the access unit that follows a break.
func (p *Parser) discontinuity() {
	p.finishDirection()
	p.issueReleases(p.codec.ResetReferenceFrameList())
	p.callInSequence(Command{Kind: ReleasePartialDecodeBuffers, DecodeIndex: InvalidIndex})
	p.codec.Resynchronize()

	p.translator.Reset()
	p.resetDisplayTiming()
	p.deferred.newSequence()
	p.current = nil
	p.afterJump = true
	p.logger.Debug("Stream discontinuity")
}

// finishDirection displays everything still pending in the current
// direction.
func (p *Parser) finishDirection() {
	if p.direction == DirectionReverse {
		if len(p.reverse.runs) > 0 || len(p.reverse.releases) > 0 {
			p.unwindReverse()
		}
		return
	}
	p.flushDeferred()
}

func (p *Parser) resetDisplayTiming() {
	p.lastDisplayPTS = timestamp.InvalidTime
	p.lastDisplayIndex = InvalidIndex
	p.rateEstimator.Reset()
}

// Discontinuity handles a stream break signalled outside an access unit.
func (p *Parser) Discontinuity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishStats()
	p.discontinuity()
}

// SetPlaybackDirection switches between forward and reverse play.
func (p *Parser) SetPlaybackDirection(d Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishStats()

	if d == p.direction {
		return
	}
	p.finishDirection()
	p.issueReleases(p.codec.ResetReferenceFrameList())
	p.codec.Restart()
	p.resetDisplayTiming()
	p.current = nil
	p.direction = d
	p.logger.WithField("direction", d.String()).Info("Playback direction changed")
}

// Halt displays everything pending and stops accepting input.
func (p *Parser) Halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishStats()

	if p.halted {
		return
	}
	p.finishDirection()
	p.issueReleases(p.codec.ResetReferenceFrameList())
	p.current = nil
	p.halted = true
	p.logger.Debug("Parser halted")
}

// Reset drops everything pending and forgets all stream state.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishStats()

	p.purgeDeferred()
	p.discardReverse()
	p.reverse = newReverseEngine()
	p.issueReleases(p.codec.ResetReferenceFrameList())
	p.codec.Reset()

	p.translator.Reset()
	p.resetDisplayTiming()
	p.deferred = newDeferredQueue()
	p.deferred.allowDpb = !p.policy.H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering
	p.current = nil
	p.streamRate = timestamp.Rational{}
	p.frameRate = timestamp.Rational{}
	p.width, p.height = 0, 0
	p.afterJump = false
	p.unplayable = false
	p.halted = false
	p.refFailures = 0
}

// Stats returns a snapshot of the parser counters. It takes no lock and
// may be called from any goroutine while Input runs.
func (p *Parser) Stats() Stats {
	return Stats{
		FramesParsed:          p.framesParsed.Load(),
		Discarded:             p.discarded.Load(),
		DeferredDepth:         int(p.snapshot.deferredDepth.Load()),
		ReferenceFrames:       int(p.snapshot.referenceFrames.Load()),
		ReverseFailures:       int(p.snapshot.reverseFailures.Load()),
		SmoothReverseDisabled: p.snapshot.reverseDisabled.Load(),
		Unplayable:            p.snapshot.unplayable.Load(),
		Direction:             Direction(p.snapshot.direction.Load()).String(),
		TimeWraps:             int(p.snapshot.wraps.Load()),
	}
}

// publishStats copies the parse state Stats reports into the snapshot.
// Callers hold p.mu.
func (p *Parser) publishStats() {
	p.snapshot.deferredDepth.Store(int64(p.deferred.Len()))
	p.snapshot.referenceFrames.Store(int64(p.codec.ReferenceFrameCount()))
	p.snapshot.reverseFailures.Store(int64(p.reverse.failures))
	p.snapshot.reverseDisabled.Store(p.reverse.disabled)
	p.snapshot.unplayable.Store(p.unplayable)
	p.snapshot.direction.Store(int32(p.direction))
	p.snapshot.wraps.Store(int64(p.translator.Wraps()))
}

// ApplyCorrectiveNativeTimeWrap moves the time baseline forward one native
// period. An output timer calls it when it has seen the 33-bit clock wrap
// before this stream's time stamps did.
func (p *Parser) ApplyCorrectiveNativeTimeWrap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishStats()

	p.translator.ApplyCorrectiveNativeTimeWrap()
	p.logger.WithField("wraps", p.translator.Wraps()).Info("Applied corrective time wrap")
}
