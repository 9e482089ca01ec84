package parser

import (
	"fmt"

	"github.com/zsiec/frameparser/internal/buffer"
)

// CommandKind identifies an in-sequence command for the decoder.
type CommandKind int

const (
	// ReleaseReferenceFrame: the frame at DecodeIndex is no longer a reference.
	ReleaseReferenceFrame CommandKind = iota
	// ReleasePartialDecodeBuffers: drop anything partially decoded.
	ReleasePartialDecodeBuffers
)

func (k CommandKind) String() string {
	switch k {
	case ReleaseReferenceFrame:
		return "release_reference_frame"
	case ReleasePartialDecodeBuffers:
		return "release_partial_decode_buffers"
	default:
		return "unknown"
	}
}

// Command is issued to the decoder in order with the queued frames.
type Command struct {
	Kind        CommandKind
	DecodeIndex int
}

// Sequencer accepts commands that must take effect in stream order.
type Sequencer interface {
	CallInSequence(cmd Command) error
}

// OutputItem is one entry of the parser's output ring: either a frame to
// decode or a command.
type OutputItem struct {
	Frame   *buffer.Buffer[CodedFrame]
	Command *Command
}

// IsCommand reports whether the item carries a command.
func (o OutputItem) IsCommand() bool {
	return o.Command != nil
}

// ringSequencer places commands in the output ring between frames.
type ringSequencer struct {
	ring *buffer.Ring[OutputItem]
}

func (s *ringSequencer) CallInSequence(cmd Command) error {
	c := cmd
	if err := s.ring.Push(OutputItem{Command: &c}); err != nil {
		return fmt.Errorf("queue %s: %w", cmd.Kind, err)
	}
	return nil
}
