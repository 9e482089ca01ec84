package parser

import (
	"sort"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/events"
	"github.com/zsiec/frameparser/internal/metrics"
)

type reverseState int

const (
	reverseAccumulating reverseState = iota
	reverseCheckingResources
	reverseDiscarding
	reverseUnwinding
)

func (s reverseState) String() string {
	switch s {
	case reverseAccumulating:
		return "accumulating"
	case reverseCheckingResources:
		return "checking_resources"
	case reverseDiscarding:
		return "discarding"
	case reverseUnwinding:
		return "unwinding"
	default:
		return "unknown"
	}
}

// reverseRun holds every buffer of one picture in forward order. Reference
// runs were queued for decode as they arrived; the others wait for unwind.
type reverseRun struct {
	frames []*buffer.Buffer[CodedFrame]

	reference   bool
	unsatisfied bool
	key         int64
	pts         int64
}

func (r *reverseRun) release() {
	for _, f := range r.frames {
		f.Release()
	}
	r.frames = nil
}

// reverseEngine accumulates one group of pictures fed in forward order and
// emits it for display in reverse when the next group starts.
type reverseEngine struct {
	state    reverseState
	runs     []*reverseRun
	releases []int

	failures      int
	disabled      bool
	lostThisGroup bool
}

func newReverseEngine() *reverseEngine {
	return &reverseEngine{}
}

func (r *reverseEngine) usage() int {
	n := 0
	for _, run := range r.runs {
		if !run.unsatisfied {
			n++
		}
	}
	return n
}

func (r *reverseEngine) purgeUnsatisfied() int {
	kept := r.runs[:0]
	purged := 0
	for _, run := range r.runs {
		if run.unsatisfied {
			run.release()
			purged++
			continue
		}
		kept = append(kept, run)
	}
	for i := len(kept); i < len(r.runs); i++ {
		r.runs[i] = nil
	}
	r.runs = kept
	return purged
}

// reverseBudget is how many pictures of one group may be held at once.
func (p *Parser) reverseBudget() int {
	budget := p.opts.DecodeBufferCount - p.opts.ManifestorReserve
	if limit := MaxReferenceFrameCount - 3; limit < budget {
		budget = limit
	}
	if budget < 1 {
		budget = 1
	}
	return budget
}

// placeReverse files the picture in frame into the current group.
func (p *Parser) placeReverse(frame *buffer.Buffer[CodedFrame], pic *Picture, parsed *ParsedFrameParameters, unsatisfied bool) error {
	r := p.reverse
	cur := p.current

	if r.disabled {
		if pic.Kind == PictureNewFrame {
			e := &displayEntry{pts: parsed.NormalizedPlaybackTime, decodeIndex: parsed.DecodeFrameIndex}
			e.add(frame)
			cur.entry = e
			p.resolve(e, -1)
		} else {
			p.shareDisplay(frame)
		}
		return p.queueForDecode(frame)
	}

	if pic.Kind == PictureNewFrame {
		if r.state == reverseDiscarding && (unsatisfied || !pic.ReferenceFrame) {
			cur.dropped = true
			return nil
		}
		cur.run = &reverseRun{
			reference:   !cur.held,
			unsatisfied: unsatisfied,
			key:         pic.OrderKey,
			pts:         parsed.NormalizedPlaybackTime,
		}
		r.runs = append(r.runs, cur.run)
	}
	if cur.dropped || cur.run == nil {
		return nil
	}

	cur.run.frames = append(cur.run.frames, frame.Retain())
	if cur.run.reference {
		if err := p.queueForDecode(frame); err != nil {
			return err
		}
	}

	p.checkReverseResources()
	return nil
}

// checkReverseResources moves the engine to Discarding when the group no
// longer fits the decode buffers or the parameter pools.
func (p *Parser) checkReverseResources() {
	r := p.reverse
	if r.state == reverseDiscarding {
		return
	}
	r.state = reverseCheckingResources

	res := p.codec.Resources()
	used := r.usage()
	budget := p.reverseBudget()
	if used <= budget && res.FrameParametersFree > 0 && res.StreamParametersFree > 0 {
		r.state = reverseAccumulating
		return
	}

	r.state = reverseDiscarding
	purged := r.purgeUnsatisfied()

	p.logger.WithFields(map[string]interface{}{
		"held":                   used,
		"budget":                 budget,
		"frame_parameters_free":  res.FrameParametersFree,
		"stream_parameters_free": res.StreamParametersFree,
		"purged":                 purged,
	}).Warn("Reverse play exceeded its resources, discarding non-reference pictures")

	if r.lostThisGroup {
		return
	}
	r.lostThisGroup = true
	r.failures++
	metrics.IncrementReverseCapabilityLost(p.codec.Name())
	p.emit(events.TypeReverseCapabilityLost, map[string]interface{}{
		"failures": r.failures,
		"budget":   budget,
	})

	if r.failures >= p.opts.ReverseFailureLimit && !r.disabled {
		r.disabled = true
		p.logger.WithField("failures", r.failures).Warn("Smooth reverse disabled, passing key frames only")
		p.emit(events.TypeSmoothReverseDisabled, map[string]interface{}{
			"failures": r.failures,
		})
	}
}

// unwindReverse emits the accumulated group with the last picture first.
// Pictures that were held get their decode index here, so the output ring
// still sees decode indices in increasing order.
func (p *Parser) unwindReverse() {
	r := p.reverse
	r.state = reverseUnwinding

	r.purgeUnsatisfied()
	runs := r.runs
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].key > runs[j].key
	})

	for _, run := range runs {
		if !run.reference {
			idx := InvalidIndex
			for i, f := range run.frames {
				if i == 0 {
					idx = p.seq.Next()
				} else {
					idx = p.seq.Reuse()
				}
				f.Value().setDecodeIndex(idx)
				if err := p.queueForDecode(f); err != nil {
					p.logger.WithError(err).WithField("decode_index", idx).Error("Failed to queue held picture")
				}
			}
		}
		e := &displayEntry{frames: run.frames, pts: run.pts}
		run.frames = nil
		p.resolve(e, -1)
	}

	released := r.releases
	r.releases = nil
	released = append(released, p.codec.ResetReferenceFrameList()...)
	p.issueReleases(released)
	p.codec.Restart()

	r.runs = nil
	r.state = reverseAccumulating
	r.lostThisGroup = false
	p.current = nil
}

// discardReverse drops the group without output.
func (p *Parser) discardReverse() {
	r := p.reverse
	for _, run := range r.runs {
		for _, f := range run.frames {
			f.Value().dropDisplay()
		}
		run.release()
	}
	r.runs = nil
	r.state = reverseAccumulating
	r.lostThisGroup = false
}
