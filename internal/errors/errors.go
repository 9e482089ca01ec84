package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the class of a parse failure.
type ErrorType string

const (
	ErrorTypeHeaderSyntax                ErrorType = "HEADER_SYNTAX"
	ErrorTypeNoStreamParameters          ErrorType = "NO_STREAM_PARAMETERS"
	ErrorTypePartialFrameParameters      ErrorType = "PARTIAL_FRAME_PARAMETERS"
	ErrorTypeInsufficientReferenceFrames ErrorType = "INSUFFICIENT_REFERENCE_FRAMES"
	ErrorTypeFailedToAllocateBuffer      ErrorType = "FAILED_TO_ALLOCATE_BUFFER"
	ErrorTypeUnhandledHeader             ErrorType = "UNHANDLED_HEADER"
	ErrorTypeStreamSyntax                ErrorType = "STREAM_SYNTAX"
	ErrorTypeImplementation              ErrorType = "IMPLEMENTATION"
	ErrorTypeStreamUnplayable            ErrorType = "STREAM_UNPLAYABLE"
)

// ParseError represents a parser failure with additional context.
type ParseError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches any ParseError of the same Type, so sentinels work with errors.Is.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithDetails adds details to the error.
func (e *ParseError) WithDetails(details map[string]interface{}) *ParseError {
	e.Details = details
	return e
}

// New creates a new ParseError.
func New(errType ErrorType, message string) *ParseError {
	return &ParseError{Type: errType, Message: message}
}

// Newf creates a new ParseError with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *ParseError {
	return &ParseError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string) *ParseError {
	return &ParseError{Type: errType, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrHeaderSyntax                = New(ErrorTypeHeaderSyntax, "header syntax")
	ErrNoStreamParameters          = New(ErrorTypeNoStreamParameters, "no stream parameters")
	ErrPartialFrameParameters      = New(ErrorTypePartialFrameParameters, "partial frame parameters")
	ErrInsufficientReferenceFrames = New(ErrorTypeInsufficientReferenceFrames, "insufficient reference frames")
	ErrFailedToAllocateBuffer      = New(ErrorTypeFailedToAllocateBuffer, "failed to allocate buffer")
	ErrUnhandledHeader             = New(ErrorTypeUnhandledHeader, "unhandled header")
	ErrStreamSyntax                = New(ErrorTypeStreamSyntax, "stream syntax")
	ErrImplementation              = New(ErrorTypeImplementation, "implementation error")
	ErrStreamUnplayable            = New(ErrorTypeStreamUnplayable, "stream unplayable")
)

// Common error constructors.

// NewHeaderSyntaxError creates a header syntax error.
func NewHeaderSyntaxError(format string, args ...interface{}) *ParseError {
	return Newf(ErrorTypeHeaderSyntax, format, args...)
}

// WrapHeaderSyntaxError wraps a bit-level read failure as a header syntax error.
func WrapHeaderSyntaxError(err error, message string) *ParseError {
	return Wrap(err, ErrorTypeHeaderSyntax, message)
}

// NewNoStreamParametersError creates an error for a reference to an unknown parameter set.
func NewNoStreamParametersError(format string, args ...interface{}) *ParseError {
	return Newf(ErrorTypeNoStreamParameters, format, args...)
}

// NewPartialFrameParametersError creates an error for a picture continuation without a start.
func NewPartialFrameParametersError(message string) *ParseError {
	return New(ErrorTypePartialFrameParameters, message)
}

// NewInsufficientReferenceFramesError creates an insufficient references error.
func NewInsufficientReferenceFramesError(format string, args ...interface{}) *ParseError {
	return Newf(ErrorTypeInsufficientReferenceFrames, format, args...)
}

// WrapAllocationError wraps a pool exhaustion failure.
func WrapAllocationError(err error, pool string) *ParseError {
	return Wrap(err, ErrorTypeFailedToAllocateBuffer, fmt.Sprintf("%s pool exhausted", pool))
}

// NewUnhandledHeaderError creates an error for tolerated but unsupported syntax.
func NewUnhandledHeaderError(format string, args ...interface{}) *ParseError {
	return Newf(ErrorTypeUnhandledHeader, format, args...)
}

// NewStreamSyntaxError creates an error for a structural stream violation.
func NewStreamSyntaxError(format string, args ...interface{}) *ParseError {
	return Newf(ErrorTypeStreamSyntax, format, args...)
}

// NewImplementationError creates an error for a parser invariant violation.
func NewImplementationError(err error, message string) *ParseError {
	return Wrap(err, ErrorTypeImplementation, message)
}

// IsParseError checks if an error is, or wraps, a ParseError.
func IsParseError(err error) bool {
	_, ok := GetParseError(err)
	return ok
}

// GetParseError extracts the outermost ParseError from an error chain.
func GetParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or an empty type for foreign errors.
func TypeOf(err error) ErrorType {
	if pe, ok := GetParseError(err); ok {
		return pe.Type
	}
	return ""
}
