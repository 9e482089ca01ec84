package parser

import (
	"github.com/zsiec/frameparser/internal/errors"
)

// CodingType is the picture coding type of anchor-based syntaxes.
type CodingType int

const (
	CodingI CodingType = iota
	CodingP
	CodingB
)

func (c CodingType) String() string {
	switch c {
	case CodingI:
		return "I"
	case CodingP:
		return "P"
	case CodingB:
		return "B"
	default:
		return "?"
	}
}

type anchor struct {
	decodeIndex int
	key         int64
	present     bool
	usable      bool
}

// AnchorTracker models syntaxes where I and P pictures are the only
// references and a B picture uses the two most recent of them.
type AnchorTracker struct {
	older, newer anchor
}

// PrepareLists fills the reference lists for a picture of type ct.
// backwardOnly marks B pictures that may only use the newer anchor.
func (t *AnchorTracker) PrepareLists(ct CodingType, backwardOnly bool, parsed *ParsedFrameParameters) error {
	switch ct {
	case CodingI:
		parsed.NumberOfReferenceFrameLists = 0
		return nil
	case CodingP:
		if !t.newer.usable {
			return errors.NewInsufficientReferenceFramesError("P picture without a forward anchor")
		}
		parsed.NumberOfReferenceFrameLists = 1
		parsed.ReferenceFrameList[0] = ReferenceFrameList{Entries: []ReferenceEntry{t.newer.entry()}}
		return nil
	default:
		if !t.newer.usable {
			return errors.NewInsufficientReferenceFramesError("B picture without a backward anchor")
		}
		forward := t.older
		if backwardOnly {
			forward = t.newer
		} else if !t.older.usable {
			return errors.NewInsufficientReferenceFramesError("B picture without a forward anchor")
		}
		parsed.NumberOfReferenceFrameLists = 2
		parsed.ReferenceFrameList[0] = ReferenceFrameList{Entries: []ReferenceEntry{forward.entry()}}
		parsed.ReferenceFrameList[1] = ReferenceFrameList{Entries: []ReferenceEntry{t.newer.entry()}}
		return nil
	}
}

// AppendOlder adds the older anchor to a P picture's list when it can
// still be used, for syntaxes where P pictures may predict from both.
func (t *AnchorTracker) AppendOlder(parsed *ParsedFrameParameters) bool {
	if parsed.NumberOfReferenceFrameLists != 1 || !t.older.usable {
		return false
	}
	l := &parsed.ReferenceFrameList[0]
	l.Entries = append(l.Entries, t.older.entry())
	return true
}

func (a anchor) entry() ReferenceEntry {
	return ReferenceEntry{DecodeIndex: a.decodeIndex, PicOrderCnt: a.key}
}

// Commit records a decoded picture. Anchors push out the older anchor,
// whose decode index is returned for release.
func (t *AnchorTracker) Commit(ct CodingType, decodeIndex int, key int64) []int {
	if ct == CodingB {
		return nil
	}
	var released []int
	if t.older.present {
		released = append(released, t.older.decodeIndex)
	}
	t.older = t.newer
	t.newer = anchor{decodeIndex: decodeIndex, key: key, present: true, usable: true}
	return released
}

// Invalidate keeps the current anchors for release but stops them being
// used for prediction, as after a broken link.
func (t *AnchorTracker) Invalidate() {
	t.older.usable = false
	t.newer.usable = false
}

// Reset forgets both anchors and returns their decode indices.
func (t *AnchorTracker) Reset() []int {
	var released []int
	for _, a := range []anchor{t.older, t.newer} {
		if a.present {
			released = append(released, a.decodeIndex)
		}
	}
	t.older, t.newer = anchor{}, anchor{}
	return released
}

// Count returns the number of anchors held.
func (t *AnchorTracker) Count() int {
	n := 0
	if t.older.present {
		n++
	}
	if t.newer.present {
		n++
	}
	return n
}

// OrderCounter extends a wrapping temporal counter, such as an MPEG-2
// temporal_reference, into a key that orders pictures across the stream.
type OrderCounter struct {
	modulus int64
	base    int64
	last    int64
	have    bool
}

// NewOrderCounter creates a counter for a field of the given bit width.
func NewOrderCounter(bits uint) *OrderCounter {
	return &OrderCounter{modulus: 1 << bits}
}

// StartGroup begins a new numbering group; its keys sort after every key
// issued so far.
func (c *OrderCounter) StartGroup() {
	if c.have {
		c.base += 2 * c.modulus
		c.have = false
	}
}

// Key returns the display key of a picture with the given counter value.
// Anchors advance the wrap tracking; other pictures are placed relative
// to the last anchor.
func (c *OrderCounter) Key(value int64, isAnchor bool) int64 {
	if !c.have {
		c.have = true
		c.last = value
		return c.base + value
	}

	half := c.modulus / 2
	if isAnchor {
		if value < c.last && c.last-value > half {
			c.base += c.modulus
		}
		c.last = value
		return c.base + value
	}

	switch {
	case value > c.last && value-c.last > half:
		return c.base - c.modulus + value
	case value < c.last && c.last-value > half:
		return c.base + c.modulus + value
	default:
		return c.base + value
	}
}
