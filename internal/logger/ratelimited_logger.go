package logger

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Log categories emitted once per access unit or slice.
const (
	CategoryStreamError   = "stream_error"
	CategoryDiscard       = "discard"
	CategoryReferenceList = "reference_list"
	CategoryDisplayOrder  = "display_order"
	CategoryMarking       = "marking"
)

// RateLimitedLogger throttles per-category messages so a corrupt stream
// cannot flood the log. Uncategorised calls pass straight through.
type RateLimitedLogger struct {
	Logger
	limits *limiterSet
}

type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
	dropped  atomic.Int64
}

// NewRateLimitedLogger allows burst messages per category and then one
// message per 1/perSecond seconds.
func NewRateLimitedLogger(base Logger, perSecond float64, burst int) *RateLimitedLogger {
	if base == nil {
		base = NewNullLogger()
	}
	return &RateLimitedLogger{
		Logger: base,
		limits: &limiterSet{
			limiters: make(map[string]*rate.Limiter),
			every:    rate.Limit(perSecond),
			burst:    burst,
		},
	}
}

func (s *limiterSet) allow(category string) bool {
	s.mu.Lock()
	l, ok := s.limiters[category]
	if !ok {
		l = rate.NewLimiter(s.every, s.burst)
		s.limiters[category] = l
	}
	s.mu.Unlock()

	if l.Allow() {
		return true
	}
	s.dropped.Add(1)
	return false
}

// WithFields implements Logger interface
func (r *RateLimitedLogger) WithFields(fields map[string]interface{}) Logger {
	return &RateLimitedLogger{Logger: r.Logger.WithFields(fields), limits: r.limits}
}

// WithField implements Logger interface
func (r *RateLimitedLogger) WithField(key string, value interface{}) Logger {
	return &RateLimitedLogger{Logger: r.Logger.WithField(key, value), limits: r.limits}
}

// WithError implements Logger interface
func (r *RateLimitedLogger) WithError(err error) Logger {
	return &RateLimitedLogger{Logger: r.Logger.WithError(err), limits: r.limits}
}

// LogCategory logs msg at level unless the category budget is exhausted.
func (r *RateLimitedLogger) LogCategory(level logrus.Level, category, msg string, fields map[string]interface{}) bool {
	if !r.limits.allow(category) {
		return false
	}
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["category"] = category
	r.Logger.WithFields(fields).Log(level, msg)
	return true
}

// WarnCategory is LogCategory at warn level.
func (r *RateLimitedLogger) WarnCategory(category, msg string, fields map[string]interface{}) bool {
	return r.LogCategory(logrus.WarnLevel, category, msg, fields)
}

// DebugCategory is LogCategory at debug level.
func (r *RateLimitedLogger) DebugCategory(category, msg string, fields map[string]interface{}) bool {
	return r.LogCategory(logrus.DebugLevel, category, msg, fields)
}

// Dropped returns how many categorised messages were suppressed.
func (r *RateLimitedLogger) Dropped() int64 {
	return r.limits.dropped.Load()
}
