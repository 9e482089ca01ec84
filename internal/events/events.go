// Package events carries non-fatal stream notifications raised by the
// parser (frame rate and size changes, reverse capability loss) to sinks.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
)

// Type identifies an event
type Type string

const (
	TypeFrameRateChange       Type = "frame_rate_change"
	TypeSizeChange            Type = "size_change"
	TypeNewStreamParameters   Type = "new_stream_parameters"
	TypeReverseCapabilityLost Type = "reverse_capability_lost"
	TypeSmoothReverseDisabled Type = "smooth_reverse_disabled"
	TypeStreamUnplayable      Type = "stream_unplayable"
)

// Event is a single notification
type Event struct {
	ID       string                 `json:"id"`
	Type     Type                   `json:"type"`
	StreamID string                 `json:"stream_id"`
	Codec    string                 `json:"codec"`
	Time     time.Time              `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// New creates an event stamped with a fresh id and the current time
func New(t Type, streamID, codec string, details map[string]interface{}) Event {
	return Event{
		ID:       uuid.New().String(),
		Type:     t,
		StreamID: streamID,
		Codec:    codec,
		Time:     time.Now(),
		Details:  details,
	}
}

// Sink receives events
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// LogSink writes events to a logger
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink that logs every event at info level
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: logger.ForComponent(log, "events")}
}

// Emit implements Sink
func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	s.logger.WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"stream_id":  ev.StreamID,
		"codec":      ev.Codec,
	}).WithFields(ev.Details).Info("Stream event")
	metrics.IncrementEventsEmitted(string(ev.Type), "log")
	return nil
}

// MultiSink fans an event out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink; nil sinks are skipped
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit implements Sink. Every sink is attempted; failures are joined.
func (m *MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink records events in memory
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty recording sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink
func (s *MemorySink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns the recorded events of type t
func (s *MemorySink) OfType(t Type) []Event {
	var out []Event
	for _, ev := range s.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
