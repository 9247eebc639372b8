package vat

import (
	"context"
	"errors"
	"fmt"
)

// Bake errors. Typed errors below match these with errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSamplingFailure = errors.New("sampling failure")
	ErrFormatMismatch  = errors.New("format mismatch")
	ErrCanceled        = errors.New("bake canceled")
)

// FailureKind classifies a clip failure.
type FailureKind string

const (
	KindInvalidInput    FailureKind = "invalid_input"
	KindSamplingFailure FailureKind = "sampling_failure"
	KindFormatMismatch  FailureKind = "format_mismatch"
	KindCanceled        FailureKind = "canceled"
	KindUnknown         FailureKind = "unknown"
)

// InputError is a fault in the clip or bake settings. Most are detected
// before sampling starts; values out of the pixel format's range are found
// while encoding.
type InputError struct {
	Clip   string
	Reason string
}

func (e *InputError) Error() string {
	if e.Clip == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("clip %q: invalid input: %s", e.Clip, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// SamplingError reports a pose that could not be evaluated.
type SamplingError struct {
	Clip  string
	Frame int
	Time  float32
	Err   error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("clip %q frame %d (t=%.4fs): sampling failure: %v", e.Clip, e.Frame, e.Time, e.Err)
}

func (e *SamplingError) Is(target error) bool { return target == ErrSamplingFailure }

func (e *SamplingError) Unwrap() error { return e.Err }

// FormatMismatchError reports a vertex (or frame) count inconsistency.
type FormatMismatchError struct {
	Clip  string
	Frame int // -1 when the frame count itself is wrong
	What  string
	Got   int
	Want  int
}

func (e *FormatMismatchError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("clip %q: format mismatch: %s count %d, want %d", e.Clip, e.What, e.Got, e.Want)
	}
	return fmt.Sprintf("clip %q frame %d: format mismatch: %s count %d, want %d", e.Clip, e.Frame, e.What, e.Got, e.Want)
}

func (e *FormatMismatchError) Is(target error) bool { return target == ErrFormatMismatch }

// KindOf maps an error to its FailureKind.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrSamplingFailure):
		return KindSamplingFailure
	case errors.Is(err, ErrFormatMismatch):
		return KindFormatMismatch
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
