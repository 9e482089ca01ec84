package parser

import (
	"sort"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// displayEntry is one picture whose display index and time are pending.
// Every slice and field buffer of the picture is held here with its own
// reference until the entry is resolved.
type displayEntry struct {
	frames []*buffer.Buffer[CodedFrame]

	pocKey   int64
	dpbKey   int64
	dpbValid bool
	pts      int64

	decodeIndex int
	resolved    bool
	display     int
	displayPTS  int64
}

func (e *displayEntry) add(frame *buffer.Buffer[CodedFrame]) {
	e.frames = append(e.frames, frame.Retain())
}

func (e *displayEntry) release() {
	for _, f := range e.frames {
		f.Release()
	}
	e.frames = nil
}

// deferredQueue keeps pending pictures ordered by display key. The key is
// the DPB output time when buffer timing is available and trusted, and the
// extended picture order count otherwise.
type deferredQueue struct {
	entries []*displayEntry

	allowDpb bool
	fellBack bool

	lastKey      int64
	lastPTS      int64
	lastKeyValid bool
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{lastPTS: timestamp.InvalidTime}
}

func (q *deferredQueue) useDpb() bool {
	return q.allowDpb && !q.fellBack
}

func (q *deferredQueue) key(e *displayEntry) int64 {
	if q.useDpb() && e.dpbValid {
		return e.dpbKey
	}
	return e.pocKey
}

func (q *deferredQueue) Len() int {
	return len(q.entries)
}

// insert adds e in key order. It reports true when the entry's time stamp
// contradicts the DPB order, in which case the queue has already switched
// to picture order for the rest of the sequence.
func (q *deferredQueue) insert(e *displayEntry) bool {
	fellBack := false
	if q.useDpb() && e.dpbValid && q.contradicts(e) {
		q.fellBack = true
		fellBack = true
		q.resort()
	}

	k := q.key(e)
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.key(q.entries[i]) > k
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
	return fellBack
}

// contradicts reports whether ordering e by its DPB key would put time
// stamps out of order relative to the pending entries or the last display.
func (q *deferredQueue) contradicts(e *displayEntry) bool {
	if !timestamp.IsValid(e.pts) {
		return false
	}
	k := e.dpbKey
	if q.lastKeyValid && timestamp.IsValid(q.lastPTS) && k > q.lastKey && e.pts < q.lastPTS {
		return true
	}
	for _, o := range q.entries {
		if !o.dpbValid || !timestamp.IsValid(o.pts) {
			continue
		}
		if (o.dpbKey < k && o.pts > e.pts) || (o.dpbKey > k && o.pts < e.pts) {
			return true
		}
	}
	return false
}

func (q *deferredQueue) resort() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.key(q.entries[i]) < q.key(q.entries[j])
	})
}

// popBelow removes and returns, in order, the entries whose key is lower
// than the key e would have.
func (q *deferredQueue) popBelow(e *displayEntry) []*displayEntry {
	k := q.key(e)
	n := 0
	for n < len(q.entries) && q.key(q.entries[n]) < k {
		n++
	}
	return q.popFront(n)
}

// popFront removes and returns the n lowest entries.
func (q *deferredQueue) popFront(n int) []*displayEntry {
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]*displayEntry, n)
	copy(out, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	return out
}

// popAll removes and returns every entry in order.
func (q *deferredQueue) popAll() []*displayEntry {
	return q.popFront(len(q.entries))
}

// noteDisplayed records the key and time of the last displayed picture.
func (q *deferredQueue) noteDisplayed(e *displayEntry) {
	q.lastKey = q.key(e)
	q.lastKeyValid = true
	if timestamp.IsValid(e.pts) {
		q.lastPTS = e.pts
	}
}

// newSequence forgets the DPB fallback and display history.
func (q *deferredQueue) newSequence() {
	q.fellBack = false
	q.lastKeyValid = false
	q.lastPTS = timestamp.InvalidTime
}
