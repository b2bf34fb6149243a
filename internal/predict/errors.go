package predict

import (
	"errors"

	"github.com/phishcheck/phishcheck/internal/features"
)

// Kind classifies prediction failures.
type Kind string

const (
	KindStartup        Kind = "startup_failure"
	KindMissingFeature Kind = "missing_feature"
	KindMalformedInput Kind = "malformed_input"
	KindInvalidFeature Kind = "invalid_feature"
	KindInference      Kind = "inference_failure"
)

// Error is the single error type leaving this package.
type Error struct {
	Kind    Kind
	Feature string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf reports the failure kind of err, or "" for nil. Errors that did not
// come from this package count as inference failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInference
}

func startupError(err error) *Error {
	return &Error{Kind: KindStartup, Err: err}
}

func malformed(err error) *Error {
	return &Error{Kind: KindMalformedInput, Err: err}
}

// classify maps errors from the validator and classifier onto the taxonomy.
func classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var missing *features.MissingFeatureError
	if errors.As(err, &missing) {
		return &Error{Kind: KindMissingFeature, Feature: missing.Feature, Err: err}
	}
	var invalid *features.InvalidFeatureError
	if errors.As(err, &invalid) {
		return &Error{Kind: KindInvalidFeature, Feature: invalid.Feature, Err: err}
	}
	// Non-numeric slot values reach the model as a failed conversion.
	var unsupported *features.UnsupportedValueError
	if errors.As(err, &unsupported) {
		return &Error{Kind: KindInference, Feature: unsupported.Feature, Err: err}
	}
	// classifier.ErrInference, context errors and anything unexpected.
	return &Error{Kind: KindInference, Err: err}
}
