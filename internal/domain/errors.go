// Package domain defines domain-specific errors.
// These errors represent engine failures and are independent of infrastructure.
package domain

import (
	"errors"
	"fmt"
)

// Common errors that the engine and services can return.
var (
	// ErrIO is returned when an audio file cannot be read.
	ErrIO = errors.New("audio file unreadable")

	// ErrUnsupportedFormat is returned when the container or codec is not recognized.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrSeekOutOfRange is returned by decoders when a seek target exceeds the track.
	// The transport clamps targets, so this never reaches the user.
	ErrSeekOutOfRange = errors.New("seek target out of range")

	// ErrBufferFull is returned when the sample buffer has no free slot.
	ErrBufferFull = errors.New("sample buffer full")

	// ErrUnderrun is returned when the sample buffer could not supply every requested frame.
	ErrUnderrun = errors.New("sample buffer underrun")

	// ErrNoTrackLoaded is returned when a transport command is issued with no track loaded.
	ErrNoTrackLoaded = errors.New("no track loaded")

	// ErrInvalidFilePath is returned when a file path is empty or not a regular file.
	ErrInvalidFilePath = errors.New("invalid file path")

	// ErrDeviceUnavailable is returned when the audio output cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// DecodeError reports corrupt data encountered mid-stream.
// Recoverable errors cover a single block; the caller skips it and continues.
type DecodeError struct {
	Frame       int64 // Frame index where decoding failed
	Recoverable bool
	Err         error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	kind := "unrecoverable"
	if e.Recoverable {
		kind = "recoverable"
	}
	return fmt.Sprintf("%s decode error at frame %d: %v", kind, e.Frame, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(frame int64, recoverable bool, err error) *DecodeError {
	return &DecodeError{
		Frame:       frame,
		Recoverable: recoverable,
		Err:         err,
	}
}

// IsRecoverable reports whether err is a DecodeError that only affects one block.
func IsRecoverable(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Recoverable
}

// EngineError represents a failed engine operation.
// This wraps decoder and device errors with additional context.
type EngineError struct {
	Op   string // Operation that failed (e.g., "load", "seek", "open-device")
	Path string // File path (if applicable)
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("engine %s failed for '%s': %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, path string, err error) *EngineError {
	return &EngineError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// UnsupportedError wraps ErrUnsupportedFormat with the container and codec that were found.
func UnsupportedError(container, codec string) error {
	if codec == "" {
		return fmt.Errorf("%w: container %s", ErrUnsupportedFormat, container)
	}
	return fmt.Errorf("%w: %s in %s", ErrUnsupportedFormat, codec, container)
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string      // Field that failed validation
	Value   interface{} // Value that failed validation
	Message string      // Error message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
