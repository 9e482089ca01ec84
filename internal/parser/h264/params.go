package h264

import (
	"reflect"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
)

// FrameParameters is everything the codec derived for one picture. One is
// attached to every access unit carrying a picture.
type FrameParameters struct {
	Slice      SliceHeader
	SliceCount int

	TopFieldOrderCnt    int32
	BottomFieldOrderCnt int32
	PicOrderCnt         int32
	ExtendedPicOrderCnt int64

	PicTimingPresent bool
	PicTiming        PicTiming

	BufferingPeriodPresent bool
	BufferingPeriod        BufferingPeriod

	RecoveryPointPresent bool
	RecoveryPoint        RecoveryPoint

	PanScanPresent bool
	PanScan        PanScanRect

	Scaling ScalingMatrix

	DpbKey      int64
	DpbKeyValid bool

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

// SequenceParametersOf returns the SPS attached to an access unit.
func SequenceParametersOf(frame *buffer.Buffer[parser.CodedFrame]) (*SequenceParameterSet, bool) {
	b, ok := buffer.AttachedOf[SequenceParameterSet](frame)
	if !ok {
		return nil, false
	}
	return b.Value(), true
}

// PictureParametersOf returns the PPS attached to an access unit.
func PictureParametersOf(frame *buffer.Buffer[parser.CodedFrame]) (*PictureParameterSet, bool) {
	b, ok := buffer.AttachedOf[PictureParameterSet](frame)
	if !ok {
		return nil, false
	}
	return b.Value(), true
}

// paramCache holds the pooled parameter sets by id. Entries are shared by
// reference count with every access unit that used them.
type paramCache[T any] struct {
	pool    *buffer.Pool[T]
	entries []*buffer.Buffer[T]
}

func newParamCache[T any](name string, ids, capacity int, log logger.Logger) *paramCache[T] {
	return &paramCache[T]{
		pool:    buffer.NewPool[T](name, capacity, nil, log),
		entries: make([]*buffer.Buffer[T], ids),
	}
}

func (c *paramCache[T]) get(id uint32) *buffer.Buffer[T] {
	if int(id) >= len(c.entries) {
		return nil
	}
	return c.entries[id]
}

func (c *paramCache[T]) value(id uint32) *T {
	if b := c.get(id); b != nil {
		return b.Value()
	}
	return nil
}

// store installs parsed under id. A resend identical to the cached set is
// dropped and reports false.
func (c *paramCache[T]) store(id uint32, parsed *T) (bool, error) {
	old := c.entries[id]
	if old != nil && reflect.DeepEqual(old.Value(), parsed) {
		return false, nil
	}
	b, err := c.pool.Get()
	if err != nil {
		return false, errors.WrapAllocationError(err, c.pool.Name())
	}
	*b.Value() = *parsed
	c.entries[id] = b
	if old != nil {
		old.Release()
	}
	return true, nil
}

func (c *paramCache[T]) free() int {
	return c.pool.Free()
}

func (c *paramCache[T]) clear() {
	for i, b := range c.entries {
		if b != nil {
			b.Release()
			c.entries[i] = nil
		}
	}
}
