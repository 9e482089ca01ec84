package parser

import (
	"context"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/events"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// placeForward decides when the picture in frame gets its display index.
// Non-reference pictures are displayed at once, after every pending picture
// that precedes them; reference pictures wait in the deferred queue until a
// later picture or the queue limit pushes them out.
func (p *Parser) placeForward(frame *buffer.Buffer[CodedFrame], pic *Picture, parsed *ParsedFrameParameters) {
	if pic.Kind != PictureNewFrame {
		p.shareDisplay(frame)
		return
	}

	e := &displayEntry{
		pocKey:      pic.OrderKey,
		dpbKey:      pic.DpbKey,
		dpbValid:    pic.DpbKeyValid,
		pts:         parsed.NormalizedPlaybackTime,
		decodeIndex: parsed.DecodeFrameIndex,
	}
	e.add(frame)
	p.current.entry = e

	if pic.ClearsDeferred {
		if pic.NoOutputOfPriorPics {
			p.purgeDeferred()
		} else {
			p.flushDeferred()
		}
	}

	if !pic.ReferenceFrame {
		for _, d := range p.deferred.popBelow(e) {
			p.resolve(d, 1)
		}
		p.resolve(e, 1)
	} else {
		if p.deferred.insert(e) {
			p.limited.WarnCategory(logger.CategoryDisplayOrder, "Buffer timing contradicts time stamps, ordering by picture order count", map[string]interface{}{
				"decode_index": parsed.DecodeFrameIndex,
			})
		}
		limit := p.reorderLimit(pic)
		if over := p.deferred.Len() - limit; over > 0 {
			for _, d := range p.deferred.popFront(over) {
				p.resolve(d, 1)
			}
		}
	}

	metrics.SetDeferredDisplayDepth(p.codec.Name(), p.deferred.Len())
}

// shareDisplay gives a further slice or field buffer the display of the
// picture in progress.
func (p *Parser) shareDisplay(frame *buffer.Buffer[CodedFrame]) {
	e := p.current.entry
	if e == nil {
		return
	}
	if e.resolved {
		frame.Value().resolveDisplay(e.display, e.displayPTS, p.toNative(e.displayPTS))
		return
	}
	e.add(frame)
}

func (p *Parser) reorderLimit(pic *Picture) int {
	limit := pic.ReorderLimit
	if avail := p.opts.DecodeBufferCount - p.opts.ManifestorReserve; avail < limit {
		limit = avail
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

// flushDeferred displays every pending picture in order.
func (p *Parser) flushDeferred() {
	for _, d := range p.deferred.popAll() {
		p.resolve(d, 1)
	}
	metrics.SetDeferredDisplayDepth(p.codec.Name(), 0)
}

// purgeDeferred drops every pending picture without displaying it.
func (p *Parser) purgeDeferred() {
	dropped := p.deferred.popAll()
	for _, d := range dropped {
		d.resolved = true
		d.display = InvalidIndex
		d.displayPTS = timestamp.InvalidTime
		for _, f := range d.frames {
			f.Value().dropDisplay()
		}
		d.release()
	}
	if len(dropped) > 0 {
		p.logger.WithField("dropped", len(dropped)).Debug("Purged deferred pictures without output")
	}
	metrics.SetDeferredDisplayDepth(p.codec.Name(), 0)
}

// resolve assigns the next display index to e and a display time, then
// releases the references the entry held. dir is -1 in reverse play, where
// display times run backwards.
func (p *Parser) resolve(e *displayEntry, dir int64) {
	if e.resolved {
		e.release()
		return
	}

	idx := p.nextDisplay
	p.nextDisplay++
	pts := p.displayTime(idx, e.pts, dir)

	e.resolved = true
	e.display = idx
	e.displayPTS = pts

	native := p.toNative(pts)
	for _, f := range e.frames {
		f.Value().resolveDisplay(idx, pts, native)
	}
	p.deferred.noteDisplayed(e)
	e.release()
}

// displayTime returns own when valid, otherwise extrapolates from the last
// displayed time by one frame duration per display index.
func (p *Parser) displayTime(idx int, own int64, dir int64) int64 {
	if timestamp.IsValid(own) {
		if p.policy.UsePTSDeducedDefaultFrameRates {
			p.rateEstimator.Observe(int64(idx), dir*own)
		}
		p.lastDisplayPTS = own
		p.lastDisplayIndex = idx
		return own
	}
	if !timestamp.IsValid(p.lastDisplayPTS) {
		return timestamp.InvalidTime
	}

	d := timestamp.FrameDuration(p.effectiveFrameRate())
	pts := p.lastDisplayPTS + dir*d*int64(idx-p.lastDisplayIndex)
	p.lastDisplayPTS = pts
	p.lastDisplayIndex = idx
	return pts
}

func (p *Parser) toNative(pts int64) uint64 {
	if !timestamp.IsValid(pts) {
		return timestamp.InvalidNative
	}
	return p.translator.NormalizedToNative(pts)
}

// effectiveFrameRate is the stream's signalled rate, else the rate deduced
// from time stamps when policy allows, else the default rate.
func (p *Parser) effectiveFrameRate() timestamp.Rational {
	if !p.streamRate.IsZero() {
		return p.streamRate
	}
	if p.policy.UsePTSDeducedDefaultFrameRates {
		if r, ok := p.rateEstimator.Rate(); ok {
			return r
		}
	}
	return timestamp.DefaultFrameRate
}

// noteStream tracks picture size and frame rate, raising events when
// either changes.
func (p *Parser) noteStream(pic *Picture) {
	if pic.NewStreamParameters {
		metrics.IncrementNewStreamParameters(p.codec.Name())
		p.deferred.newSequence()
		p.emit(events.TypeNewStreamParameters, map[string]interface{}{
			"width":  pic.Width,
			"height": pic.Height,
		})
	}

	if pic.Width != 0 && pic.Height != 0 && (pic.Width != p.width || pic.Height != p.height) {
		if p.width != 0 {
			p.emit(events.TypeSizeChange, map[string]interface{}{
				"old_width":  p.width,
				"old_height": p.height,
				"width":      pic.Width,
				"height":     pic.Height,
			})
		}
		p.width, p.height = pic.Width, pic.Height
	}

	if !pic.FrameRate.IsZero() {
		p.streamRate = pic.FrameRate
	}
	rate := p.effectiveFrameRate()
	if !rate.Equal(p.frameRate) {
		if !p.frameRate.IsZero() {
			p.emit(events.TypeFrameRateChange, map[string]interface{}{
				"old_rate": p.frameRate.Float64(),
				"rate":     rate.Float64(),
			})
		}
		p.frameRate = rate
	}
}

func (p *Parser) emit(t events.Type, details map[string]interface{}) {
	if p.events == nil {
		return
	}
	ev := events.New(t, p.opts.StreamID, p.codec.Name(), details)
	if err := p.events.Emit(context.Background(), ev); err != nil {
		p.logger.WithError(err).WithField("event_type", string(t)).Warn("Failed to emit event")
	}
}
