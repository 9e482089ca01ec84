package pipeline

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/timestamp"
)

// FrameReport describes one access unit queued for decode.
type FrameReport struct {
	Kind         string `json:"kind"`
	DecodeIndex  int    `json:"decode_index"`
	DisplayIndex int    `json:"display_index"`
	// PTS is the normalized presentation time in microseconds, when known.
	PTS *int64 `json:"pts_us,omitempty"`

	KeyFrame            bool    `json:"key_frame"`
	Reference           bool    `json:"reference"`
	Structure           string  `json:"structure"`
	Interlaced          bool    `json:"interlaced,omitempty"`
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	FrameRate           float64 `json:"frame_rate,omitempty"`
	NewStreamParameters bool    `json:"new_stream_parameters,omitempty"`
	AfterInputJump      bool    `json:"after_input_jump,omitempty"`
	ReferenceLists      [][]int `json:"reference_lists,omitempty"`
}

// CommandReport describes an in-sequence decoder command.
type CommandReport struct {
	Kind        string `json:"kind"`
	Command     string `json:"command"`
	DecodeIndex int    `json:"decode_index"`
}

// Reporter receives the parser output in queue order.
type Reporter interface {
	Frame(r FrameReport) error
	Command(r CommandReport) error
}

// NewFrameReport summarizes parsed frame parameters.
func NewFrameReport(p parser.ParsedFrameParameters) FrameReport {
	r := FrameReport{
		Kind:                "frame",
		DecodeIndex:         p.DecodeFrameIndex,
		DisplayIndex:        p.DisplayFrameIndex,
		KeyFrame:            p.KeyFrame,
		Reference:           p.ReferenceFrame,
		Structure:           p.PictureStructure.String(),
		Interlaced:          p.Interlaced,
		Width:               p.Width,
		Height:              p.Height,
		NewStreamParameters: p.NewStreamParameters,
		AfterInputJump:      p.FirstParsedParametersAfterInputJump,
	}
	if p.NormalizedPlaybackTime != timestamp.InvalidTime {
		pts := p.NormalizedPlaybackTime
		r.PTS = &pts
	}
	if !p.FrameRate.IsZero() {
		r.FrameRate = p.FrameRate.Float64()
	}
	for i := 0; i < p.NumberOfReferenceFrameLists; i++ {
		r.ReferenceLists = append(r.ReferenceLists, p.ReferenceFrameList[i].DecodeIndices())
	}
	return r
}

// NewCommandReport summarizes a decoder command.
func NewCommandReport(c parser.Command) CommandReport {
	return CommandReport{
		Kind:        "command",
		Command:     c.Kind.String(),
		DecodeIndex: c.DecodeIndex,
	}
}

// JSONReporter writes one JSON object per line.
type JSONReporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONReporter creates a reporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{enc: json.NewEncoder(w)}
}

// Frame implements Reporter
func (j *JSONReporter) Frame(r FrameReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(r)
}

// Command implements Reporter
func (j *JSONReporter) Command(r CommandReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(r)
}
