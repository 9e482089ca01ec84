package errors

import (
	"github.com/sirupsen/logrus"
	"github.com/zsiec/frameparser/internal/logger"
)

// Disposition is the action the pipeline takes for a failed access unit.
type Disposition int

const (
	// DispositionNone means the call succeeded.
	DispositionNone Disposition = iota
	// DispositionIgnore tolerates the syntax and continues parsing.
	DispositionIgnore
	// DispositionDiscardAccessUnit drops the current access unit only.
	DispositionDiscardAccessUnit
	// DispositionDiscardOrResync drops the access unit; repeated failures trigger a resync.
	DispositionDiscardOrResync
	// DispositionRetry drops the access unit because of transient resource shortage.
	DispositionRetry
	// DispositionMarkUnplayable stops parsing the stream.
	DispositionMarkUnplayable
)

func (d Disposition) String() string {
	switch d {
	case DispositionNone:
		return "none"
	case DispositionIgnore:
		return "ignore"
	case DispositionDiscardAccessUnit:
		return "discard"
	case DispositionDiscardOrResync:
		return "discard_or_resync"
	case DispositionRetry:
		return "retry"
	case DispositionMarkUnplayable:
		return "mark_unplayable"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the pipeline action for it. Foreign errors
// are treated as implementation failures.
func Classify(err error) Disposition {
	if err == nil {
		return DispositionNone
	}

	pe, ok := GetParseError(err)
	if !ok {
		return DispositionMarkUnplayable
	}

	switch pe.Type {
	case ErrorTypeUnhandledHeader:
		return DispositionIgnore
	case ErrorTypeHeaderSyntax, ErrorTypeNoStreamParameters, ErrorTypePartialFrameParameters:
		return DispositionDiscardAccessUnit
	case ErrorTypeInsufficientReferenceFrames:
		return DispositionDiscardOrResync
	case ErrorTypeFailedToAllocateBuffer:
		return DispositionRetry
	default:
		return DispositionMarkUnplayable
	}
}

// IsFatal reports whether err makes the stream unplayable.
func IsFatal(err error) bool {
	return Classify(err) == DispositionMarkUnplayable
}

// Handler logs parse errors at a level matching their disposition.
type Handler struct {
	logger logger.Logger
}

// NewHandler creates a new error handler.
func NewHandler(log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Handler{logger: log}
}

// Handle logs err and returns its disposition.
func (h *Handler) Handle(err error, fields map[string]interface{}) Disposition {
	d := Classify(err)
	if d == DispositionNone {
		return d
	}

	entry := h.logger.WithError(err).WithFields(fields).WithFields(map[string]interface{}{
		"error_type":  TypeOf(err),
		"disposition": d.String(),
	})

	switch d {
	case DispositionMarkUnplayable:
		entry.Log(logrus.ErrorLevel, "Stream marked unplayable")
	case DispositionDiscardAccessUnit, DispositionDiscardOrResync, DispositionRetry:
		entry.Log(logrus.WarnLevel, "Access unit discarded")
	default:
		entry.Log(logrus.DebugLevel, "Header ignored")
	}

	return d
}
