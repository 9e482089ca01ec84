package parser

import (
	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// HeaderFlags describe what a start code means to the collator.
type HeaderFlags uint8

const (
	// PartitionPoint: a new access unit may start at this start code.
	PartitionPoint HeaderFlags = 1 << iota
	// PossibleReversiblePoint: decoding could restart here in reverse play.
	PossibleReversiblePoint
	// ConfirmReversiblePoint: decoding can certainly restart here.
	ConfirmReversiblePoint
	// FrameData: the unit carries picture data.
	FrameData
)

// Has reports whether all bits of f are set.
func (h HeaderFlags) Has(f HeaderFlags) bool {
	return h&f == f
}

// CapabilityQuery lets a collator find access unit and reversible-point
// boundaries without parsing the stream itself.
type CapabilityQuery interface {
	// RequiredPresentationLength returns how many bytes, starting with the
	// code byte after a start code prefix, PresentCollatedHeader needs.
	RequiredPresentationLength(code byte) int
	// PresentCollatedHeader classifies the unit starting with header.
	PresentCollatedHeader(code byte, header []byte) HeaderFlags
}

// PictureKind tells the pipeline how a parsed access unit relates to the
// picture before it.
type PictureKind int

const (
	// PictureNewFrame starts a new decode frame.
	PictureNewFrame PictureKind = iota
	// PictureSecondField is the second field of the frame in progress. It
	// shares the decode index of the first field but has its own lists and
	// marking.
	PictureSecondField
	// PictureContinuation carries further slices of the picture in progress.
	PictureContinuation
)

func (k PictureKind) String() string {
	switch k {
	case PictureSecondField:
		return "second_field"
	case PictureContinuation:
		return "continuation"
	default:
		return "new_frame"
	}
}

// Picture is a codec's summary of the picture data found in one access
// unit. Attachments hold one reference each to the codec buffers that must
// travel with the access unit; the pipeline either attaches them to the
// coded frame or calls Release.
type Picture struct {
	Kind PictureKind

	KeyFrame         bool
	ReferenceFrame   bool
	IndependentFrame bool
	IDR              bool

	// ClearsDeferred asks for every earlier picture to be displayed first.
	ClearsDeferred bool
	// NoOutputOfPriorPics drops deferred pictures instead of displaying them.
	NoOutputOfPriorPics bool
	// SliceTypeMismatch is set on continuations whose slice type differs
	// from the picture's first slice.
	SliceTypeMismatch bool

	Structure     PictureStructure
	Interlaced    bool
	TopFieldFirst bool
	Width         int
	Height        int
	FrameRate     timestamp.Rational

	NewStreamParameters bool

	// OrderKey orders pictures for display across the whole stream.
	OrderKey int64
	// DpbKey is an alternative display key derived from buffer timing.
	DpbKey      int64
	DpbKeyValid bool

	// ReorderLimit is how many pictures the codec may hold back for display.
	ReorderLimit int

	Attachments []buffer.Releaser
}

// Release drops the picture's attachments.
func (p *Picture) Release() {
	for i := len(p.Attachments) - 1; i >= 0; i-- {
		p.Attachments[i].Release()
	}
	p.Attachments = nil
}

// attachTo transfers the picture's attachments to frame.
func (p *Picture) attachTo(frame *buffer.Buffer[CodedFrame]) {
	for _, a := range p.Attachments {
		frame.Attach(a)
	}
	p.Attachments = nil
}

// Resources reports the free capacity of a codec's parameter pools.
type Resources struct {
	FrameParametersFree  int `json:"frame_parameters_free"`
	StreamParametersFree int `json:"stream_parameters_free"`
}

// Codec is the syntax-specific half of the parser. The pipeline calls
// ReadHeaders, then PrepareReferenceFrameList and CommitPicture for the same
// picture, or AbandonPicture if it drops it in between.
type Codec interface {
	CapabilityQuery

	Name() string
	SetPolicy(p Policy)

	// ReadHeaders parses every unit of frame. It returns nil when the
	// access unit carries no picture to decode.
	ReadHeaders(frame *CodedFrame) (*Picture, error)
	// PrepareReferenceFrameList fills the reference lists of parsed.
	PrepareReferenceFrameList(pic *Picture, parsed *ParsedFrameParameters) error
	// CommitPicture records the picture as decoded at decodeIndex and
	// returns the decode indices that stopped being references.
	CommitPicture(pic *Picture, decodeIndex int) ([]int, error)
	// AbandonPicture forgets the picture returned by the last ReadHeaders.
	AbandonPicture(pic *Picture)

	// ResetReferenceFrameList drops every reference and returns the decode
	// indices that were held.
	ResetReferenceFrameList() []int
	// Restart lets the next picture seed prediction without a key picture.
	Restart()
	// Resynchronize discards pictures until the next key picture.
	Resynchronize()
	// Reset forgets all stream state including parameter sets.
	Reset()

	ReferenceFrameCount() int
	Resources() Resources
}
