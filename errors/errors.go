package errors

import (
	"errors"
	"fmt"
)

// Category classifies failures so a per-file unit can report a stable
// failure reason instead of an opaque message.
type Category string

const (
	// CategoryCorruptInput: strict decode failed and repair was disabled.
	CategoryCorruptInput Category = "CorruptInput"
	// CategoryUnrepairableInput: every repair strategy was tried and failed.
	CategoryUnrepairableInput Category = "UnrepairableInput"
	// CategoryInvalidPolicy: unknown preset, format or a malformed size target.
	CategoryInvalidPolicy Category = "InvalidPolicy"
	// CategoryEncodeFailure: the codec rejected the resolved parameters.
	CategoryEncodeFailure Category = "EncodeFailure"
	// CategoryDestinationUnavailable: the output path could not be written.
	CategoryDestinationUnavailable Category = "DestinationUnavailable"
	// CategoryCancelled: the caller's context ended before the unit finished.
	CategoryCancelled Category = "Cancelled"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.  A nil err yields nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of the outermost ProcessingError in err's
// chain, or "" when err carries none.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat    = errors.New("unsupported image format")
	ErrInvalidDimensions    = errors.New("invalid dimensions")
	ErrEmptyInput           = errors.New("empty input")
	ErrUnsupportedColorMode = errors.New("unsupported color mode")
	ErrAllStrategiesFailed  = errors.New("all repair strategies failed")
	ErrNoTolerantMode       = errors.New("format has no tolerant decode mode")
)
