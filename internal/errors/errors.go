// Package errors provides the error vocabulary shared by every telestream
// package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error kinds used to decide whether a failure is fatal for a session
// - Category checking functions
// - Error wrapping utilities
// - A collector for configuration validation errors
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error kinds
// ============================================================================

// Kind classifies an error by how a session must react to it.
type Kind int

const (
	// KindUnknown is any error not covered below. Treated like transport
	// failures by sessions.
	KindUnknown Kind = iota

	// KindDecode: inbound frame could not be parsed. Frame is discarded,
	// the connection stays open.
	KindDecode

	// KindEncode: the columnar form could not be produced. The session falls
	// back to the plain encoding for that one tick.
	KindEncode

	// KindTransport: read or write at the connection boundary failed.
	// Fatal for the session.
	KindTransport

	// KindValidation: bad configuration or arguments.
	KindValidation
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Decode errors
	ErrDecode           = errors.New("decode error")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrUnexpectedFrame  = errors.New("unexpected frame kind")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrSchemaMismatch   = errors.New("columnar schema mismatch")
	ErrEmptyFrame       = errors.New("empty frame")
	ErrInvalidValueType = errors.New("invalid value type")

	// Encode errors
	ErrEncode          = errors.New("encode error")
	ErrMalformedRecord = errors.New("malformed record")
	ErrShapeMismatch   = errors.New("record shape mismatch")
	ErrUnsupportedLeaf = errors.New("unsupported record leaf")

	// Transport errors
	ErrTransport     = errors.New("transport error")
	ErrPeerClosed    = errors.New("peer closed connection")
	ErrSessionClosed = errors.New("session is closed")
	ErrNotConnected  = errors.New("not connected")

	// Flow errors
	ErrQueueFull = errors.New("send queue full")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidRate   = errors.New("invalid send rate")
	ErrInvalidTopic  = errors.New("invalid topic")

	// Lookup errors
	ErrNotFound = errors.New("not found")

	// State errors
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsDecode returns true if err is an inbound decode failure.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrUnknownMessage) ||
		errors.Is(err, ErrUnexpectedFrame) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrEmptyFrame) ||
		errors.Is(err, ErrInvalidValueType)
}

// IsEncode returns true if err is a columnar encoding failure.
func IsEncode(err error) bool {
	return errors.Is(err, ErrEncode) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrUnsupportedLeaf)
}

// IsTransport returns true if err happened at the connection boundary.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrNotConnected)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrInvalidTopic)
}

// KindOf classifies err. Decode is checked before transport so that a
// decode failure wrapped by a reader is still recoverable.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsDecode(err):
		return KindDecode
	case IsEncode(err):
		return KindEncode
	case IsTransport(err):
		return KindTransport
	case IsValidation(err):
		return KindValidation
	default:
		return KindUnknown
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Decodef builds a decode error carrying the underlying cause.
func Decodef(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDecode)
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrDecode, cause)
}

// Encodef builds an encode error carrying the underlying cause.
func Encodef(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrEncode)
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrEncode, cause)
}

// Transport wraps an I/O error so KindOf reports KindTransport.
func Transport(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, cause)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns all collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
