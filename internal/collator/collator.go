// Package collator splits an elementary stream into the access units the
// frame parser consumes. It finds start codes itself and asks the codec's
// CapabilityQuery where access units begin.
package collator

import (
	"sync"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
	"github.com/zsiec/frameparser/internal/parser"
)

// prefixLen is the length of a short start code prefix, 00 00 01.
const prefixLen = 3

// AccessUnit is one collated access unit and what the codec said about the
// units that open it.
type AccessUnit struct {
	Frame *buffer.Buffer[parser.CodedFrame]
	// ReversiblePoint is set when decoding may restart at this access unit.
	ReversiblePoint bool
	// Confirmed is set when decoding certainly restarts cleanly here.
	Confirmed bool
}

// Release returns the access unit's frame to its pool.
func (u AccessUnit) Release() {
	if u.Frame != nil {
		u.Frame.Release()
	}
}

// Options configures a Collator.
type Options struct {
	// Name labels metrics and logs, usually the codec name.
	Name   string
	Pool   *buffer.Pool[parser.CodedFrame]
	Logger logger.Logger
}

// Stats contains collator statistics
type Stats struct {
	AccessUnits  uint64 `json:"access_units"`
	BytesIn      uint64 `json:"bytes_in"`
	BytesSkipped uint64 `json:"bytes_skipped"`
}

// Collator accumulates stream bytes and cuts them into access units.
type Collator struct {
	mu    sync.Mutex
	query parser.CapabilityQuery
	pool  *buffer.Pool[parser.CodedFrame]
	name  string
	log   logger.Logger

	// buf holds the access unit in progress followed by unscanned input.
	buf []byte
	// scan is where the next start code search begins.
	scan int
	// starts are the code byte offsets of the units already in buf.
	starts    []int
	frameData bool
	flags     parser.HeaderFlags

	// pending is taken by the next access unit to start; meta belongs to
	// the one in progress.
	pending parser.CodedFrameMetadata
	meta    parser.CodedFrameMetadata

	stats Stats
}

// New creates a collator for the codec behind query.
func New(query parser.CapabilityQuery, opts Options) *Collator {
	log := opts.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Collator{
		query: query,
		pool:  opts.Pool,
		name:  opts.Name,
		log:   log.WithField("component", "collator"),
	}
}

// SetPlaybackTime attaches a presentation time to the next access unit
// that starts.
func (c *Collator) SetPlaybackTime(pts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.PlaybackTime = pts
	c.pending.PlaybackTimeValid = true
}

// Discontinuity drops the partial access unit and flags the next one.
func (c *Collator) Discontinuity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skip(len(c.buf))
	c.starts = c.starts[:0]
	c.frameData = false
	c.flags = 0
	c.meta = parser.CodedFrameMetadata{}
	c.pending.Discontinuity = true
}

// Write appends stream bytes and returns every access unit they complete.
// A unit is only complete once the start code of the next one has been
// seen, so the tail of the stream stays buffered until Flush.
func (c *Collator) Write(data []byte) ([]AccessUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, data...)
	c.stats.BytesIn += uint64(len(data))
	return c.collate(false)
}

// Flush emits whatever remains buffered as the final access unit.
func (c *Collator) Flush() ([]AccessUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.collate(true)
	if err != nil {
		return out, err
	}
	if len(c.starts) == 0 {
		c.skip(len(c.buf))
		return out, nil
	}
	au, err := c.emit(len(c.buf))
	if err != nil {
		return out, err
	}
	return append(out, au), nil
}

// Stats returns collator statistics
func (c *Collator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Collator) collate(final bool) ([]AccessUnit, error) {
	var out []AccessUnit
	for {
		i := findStartCode(c.buf, c.scan)
		if i < 0 {
			if n := len(c.buf) - prefixLen; n > c.scan {
				c.scan = n
			}
			if len(c.starts) == 0 && c.scan > 0 {
				c.skip(c.scan)
			}
			return out, nil
		}

		codeAt := i + prefixLen
		if codeAt >= len(c.buf) {
			c.scan = i
			return out, nil
		}
		code := c.buf[codeAt]
		end := codeAt + c.query.RequiredPresentationLength(code)
		if end > len(c.buf) {
			if !final {
				c.scan = i
				return out, nil
			}
			end = len(c.buf)
		}
		flags := c.query.PresentCollatedHeader(code, c.buf[codeAt:end])

		cut := i
		if cut > 0 && c.buf[cut-1] == 0 {
			cut--
		}
		if len(c.starts) == 0 && cut > 0 {
			c.skip(cut)
			i -= cut
			codeAt -= cut
		} else if flags.Has(parser.PartitionPoint) && c.frameData {
			au, err := c.emit(cut)
			if err != nil {
				c.scan = i
				return out, err
			}
			out = append(out, au)
			i -= cut
			codeAt -= cut
		}

		if len(c.starts) == 0 {
			c.meta = c.pending
			c.pending = parser.CodedFrameMetadata{}
		}
		if !c.frameData {
			c.flags |= flags & (parser.PossibleReversiblePoint | parser.ConfirmReversiblePoint)
		}
		if flags.Has(parser.FrameData) {
			c.frameData = true
		}
		c.starts = append(c.starts, codeAt)
		c.scan = codeAt + 1
	}
}

// emit moves buf[:n] into a pooled coded frame.
func (c *Collator) emit(n int) (AccessUnit, error) {
	b, err := c.pool.Get()
	if err != nil {
		return AccessUnit{}, errors.WrapAllocationError(err, c.pool.Name())
	}
	cf := b.Value()
	cf.Data = append(cf.Data, c.buf[:n]...)
	cf.StartCodes = append(cf.StartCodes, c.starts...)
	cf.Metadata = c.meta
	c.meta = parser.CodedFrameMetadata{}

	au := AccessUnit{
		Frame:           b,
		ReversiblePoint: c.flags.Has(parser.PossibleReversiblePoint),
		Confirmed:       c.flags.Has(parser.ConfirmReversiblePoint),
	}

	c.drop(n)
	c.starts = c.starts[:0]
	c.frameData = false
	c.flags = 0
	c.stats.AccessUnits++
	metrics.IncrementAccessUnitsCollated(c.name)
	return au, nil
}

// skip discards n bytes that belong to no access unit.
func (c *Collator) skip(n int) {
	if n == 0 {
		return
	}
	c.log.WithField("bytes", n).Debug("Skipping bytes outside any access unit")
	c.stats.BytesSkipped += uint64(n)
	metrics.AddBytesSkipped(c.name, n)
	c.drop(n)
}

func (c *Collator) drop(n int) {
	c.buf = append(c.buf[:0], c.buf[n:]...)
	c.scan -= n
	if c.scan < 0 {
		c.scan = 0
	}
}

// findStartCode returns the offset of the next 00 00 01 prefix at or after
// from, or -1.
func findStartCode(data []byte, from int) int {
	for i := from; i+prefixLen <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return i
		}
	}
	return -1
}
