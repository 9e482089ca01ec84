package parser

import (
	"sync"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// InvalidIndex marks a decode or display index that has not been assigned.
const InvalidIndex = -1

const (
	// MaxReferenceFrameLists is the number of reference lists a picture can carry.
	MaxReferenceFrameLists = 3
	// MaxReferenceFrameCount bounds the entries of one reference list.
	MaxReferenceFrameCount = 32
)

// PictureStructure identifies a frame or one field of it.
type PictureStructure uint8

const (
	StructureFrame PictureStructure = iota
	StructureTopField
	StructureBottomField
)

func (s PictureStructure) String() string {
	switch s {
	case StructureTopField:
		return "top"
	case StructureBottomField:
		return "bottom"
	default:
		return "frame"
	}
}

// IsField reports whether s is a single field.
func (s PictureStructure) IsField() bool {
	return s != StructureFrame
}

// CodedFrameMetadata carries what the collator knows about an access unit.
type CodedFrameMetadata struct {
	PlaybackTimeValid bool
	PlaybackTime      uint64
	DecodeTimeValid   bool
	DecodeTime        uint64

	// Discontinuity marks a break in the stream before this access unit.
	Discontinuity bool
	// FlushBeforeDecode asks for partially decoded buffers to be released.
	FlushBeforeDecode bool
	// ReverseGroupStart marks the first access unit of a group fed during
	// reverse play.
	ReverseGroupStart bool
}

// ReferenceEntry addresses one reference picture by its decode index.
type ReferenceEntry struct {
	DecodeIndex int
	Structure   PictureStructure
	LongTerm    bool
	PicOrderCnt int64
}

// ReferenceFrameList is one ordered reference picture list.
type ReferenceFrameList struct {
	Entries []ReferenceEntry
}

// EntryCount returns the number of entries in the list.
func (l *ReferenceFrameList) EntryCount() int {
	return len(l.Entries)
}

// DecodeIndices returns the decode index of every entry in order.
func (l *ReferenceFrameList) DecodeIndices() []int {
	out := make([]int, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.DecodeIndex
	}
	return out
}

// ParsedFrameParameters is the codec-independent record the parser attaches
// to every access unit it queues for decode.
type ParsedFrameParameters struct {
	DecodeFrameIndex  int
	DisplayFrameIndex int

	NativePlaybackTime     uint64
	NormalizedPlaybackTime int64
	NativeDecodeTime       uint64
	NormalizedDecodeTime   int64

	KeyFrame         bool
	ReferenceFrame   bool
	IndependentFrame bool

	FirstParsedParametersForOutputFrame bool
	FirstParsedParametersAfterInputJump bool
	NewStreamParameters                 bool
	NewFrameParameters                  bool

	PictureStructure PictureStructure
	Interlaced       bool
	TopFieldFirst    bool
	Width            int
	Height           int
	FrameRate        timestamp.Rational
	Decimation       Decimation

	// DisplayOrderKey is the key the picture was ordered by for display.
	DisplayOrderKey int64

	NumberOfReferenceFrameLists int
	ReferenceFrameList          [MaxReferenceFrameLists]ReferenceFrameList
}

func newParsedFrameParameters() ParsedFrameParameters {
	return ParsedFrameParameters{
		DecodeFrameIndex:       InvalidIndex,
		DisplayFrameIndex:      InvalidIndex,
		NativePlaybackTime:     timestamp.InvalidNative,
		NormalizedPlaybackTime: timestamp.InvalidTime,
		NativeDecodeTime:       timestamp.InvalidNative,
		NormalizedDecodeTime:   timestamp.InvalidTime,
	}
}

// CodedFrame is one collated access unit together with everything the
// parser derives for it. Display fields may be resolved after the frame
// has been queued, so readers use Parameters for a consistent copy.
type CodedFrame struct {
	Data       []byte
	StartCodes []int
	Metadata   CodedFrameMetadata

	mu      sync.Mutex
	parsed  ParsedFrameParameters
	valid   bool
	settled bool
}

// Parameters returns a snapshot of the parsed parameters and whether the
// frame has been committed by the parser.
func (f *CodedFrame) Parameters() (ParsedFrameParameters, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parsed, f.valid
}

func (f *CodedFrame) setParameters(p ParsedFrameParameters) {
	f.mu.Lock()
	f.parsed = p
	f.valid = true
	f.mu.Unlock()
}

func (f *CodedFrame) setDecodeIndex(index int) {
	f.mu.Lock()
	f.parsed.DecodeFrameIndex = index
	f.mu.Unlock()
}

// DisplaySettled reports whether the parser has finished with the display
// fields of the frame. A settled frame with an invalid display index will
// not be displayed.
func (f *CodedFrame) DisplaySettled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

func (f *CodedFrame) resolveDisplay(index int, normalized int64, native uint64) {
	f.mu.Lock()
	f.parsed.DisplayFrameIndex = index
	f.parsed.NormalizedPlaybackTime = normalized
	f.parsed.NativePlaybackTime = native
	f.settled = true
	f.mu.Unlock()
}

// dropDisplay settles the frame without a display index.
func (f *CodedFrame) dropDisplay() {
	f.mu.Lock()
	f.parsed.DisplayFrameIndex = InvalidIndex
	f.settled = true
	f.mu.Unlock()
}

// NALUnits splits Data at the recorded start codes. Each unit starts at its
// header byte and excludes the next start code prefix.
func (f *CodedFrame) NALUnits() [][]byte {
	units := make([][]byte, 0, len(f.StartCodes))
	for i, off := range f.StartCodes {
		end := len(f.Data)
		if i+1 < len(f.StartCodes) {
			end = f.StartCodes[i+1] - 3
			for end > off && f.Data[end-1] == 0 {
				end--
			}
		}
		if off >= end || off >= len(f.Data) {
			continue
		}
		units = append(units, f.Data[off:end])
	}
	return units
}

// ResetCodedFrame clears a frame for reuse, keeping its backing arrays.
func ResetCodedFrame(f *CodedFrame) {
	f.Data = f.Data[:0]
	f.StartCodes = f.StartCodes[:0]
	f.Metadata = CodedFrameMetadata{}
	f.mu.Lock()
	f.parsed = ParsedFrameParameters{}
	f.valid = false
	f.settled = false
	f.mu.Unlock()
}

// NewCodedFramePool creates the pool access units are collated into.
func NewCodedFramePool(capacity int, log logger.Logger) *buffer.Pool[CodedFrame] {
	return buffer.NewPool[CodedFrame]("coded_frame", capacity, ResetCodedFrame, log)
}
