package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	t.Run("New creates error correctly", func(t *testing.T) {
		err := New(ErrorTypeHeaderSyntax, "bad slice header")

		assert.Equal(t, ErrorTypeHeaderSyntax, err.Type)
		assert.Equal(t, "HEADER_SYNTAX: bad slice header", err.Error())
	})

	t.Run("Wrap wraps error correctly", func(t *testing.T) {
		cause := errors.New("end of data reached")
		err := WrapHeaderSyntaxError(cause, "slice_qp_delta")

		assert.Equal(t, cause, err.Unwrap())
		assert.Contains(t, err.Error(), "end of data reached")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("WithDetails adds details", func(t *testing.T) {
		details := map[string]interface{}{"pps_id": 3}
		err := NewNoStreamParametersError("pps %d", 3).WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestParseError_IsMatchesByType(t *testing.T) {
	err := fmt.Errorf("parse slice: %w", NewInsufficientReferenceFramesError("list 0 needs %d", 2))

	assert.ErrorIs(t, err, ErrInsufficientReferenceFrames)
	assert.NotErrorIs(t, err, ErrHeaderSyntax)

	pe, ok := GetParseError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeInsufficientReferenceFrames, pe.Type)
	assert.Equal(t, ErrorTypeInsufficientReferenceFrames, TypeOf(err))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{"nil", nil, DispositionNone},
		{"header syntax", NewHeaderSyntaxError("x"), DispositionDiscardAccessUnit},
		{"no stream parameters", NewNoStreamParametersError("x"), DispositionDiscardAccessUnit},
		{"partial frame", NewPartialFrameParametersError("x"), DispositionDiscardAccessUnit},
		{"insufficient references", NewInsufficientReferenceFramesError("x"), DispositionDiscardOrResync},
		{"allocation", WrapAllocationError(errors.New("empty"), "coded frame"), DispositionRetry},
		{"unhandled", NewUnhandledHeaderError("nal %d", 20), DispositionIgnore},
		{"stream syntax", NewStreamSyntaxError("num_ref_frames %d", 17), DispositionMarkUnplayable},
		{"implementation", NewImplementationError(errors.New("overrun"), "filter"), DispositionMarkUnplayable},
		{"foreign", errors.New("boom"), DispositionMarkUnplayable},
		{"wrapped", fmt.Errorf("ctx: %w", NewHeaderSyntaxError("x")), DispositionDiscardAccessUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewStreamSyntaxError("sps id %d", 40)))
	assert.False(t, IsFatal(NewHeaderSyntaxError("short")))
	assert.False(t, IsFatal(nil))
}

func TestHandler_Handle(t *testing.T) {
	h := NewHandler(nil)
	assert.Equal(t, DispositionNone, h.Handle(nil, nil))
	assert.Equal(t, DispositionRetry, h.Handle(WrapAllocationError(errors.New("x"), "pps"), map[string]interface{}{"codec": "h264"}))
	assert.Equal(t, "discard_or_resync", DispositionDiscardOrResync.String())
}
