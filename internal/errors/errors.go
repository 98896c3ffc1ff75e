// Package errors consolidates the error taxonomy for meterd.
//
// Three families cover the core:
//   - schema errors: raised when a schema document is registered
//   - validation errors: raised per observation against a published schema
//   - aggregation errors: raised (or recovered locally) by the histogram engine
//
// All errors are sentinel values wrapped with context via %w, so callers
// can match with errors.Is regardless of wrapping depth.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Schema registration errors. A failed registration never partially
	// mutates registry state.
	ErrDuplicateVersion    = errors.New("version already published with different contents")
	ErrNonMonotonicVersion = errors.New("version numbers must increase strictly from 1")
	ErrUnknownField        = errors.New("field not declared in field dictionary")
	ErrUnknownType         = errors.New("unknown type name")
	ErrDuplicateField      = errors.New("duplicate field name")
	ErrUnknownTarget       = errors.New("target not registered")
	ErrUnknownMetric       = errors.New("metric not registered")

	// Per-observation validation errors. These reject only the one
	// observation; the registry is untouched.
	ErrMissingField    = errors.New("required field missing from observation")
	ErrUnexpectedField = errors.New("field not part of schema version")
	ErrTypeMismatch    = errors.New("field value type does not match declared type")
	ErrUnknownVersion  = errors.New("no such schema version")

	// Aggregation errors.
	ErrOutOfRange = errors.New("sample outside histogram support")
	ErrOverflow   = errors.New("cumulative sum saturated")

	// Configuration / loading errors.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSchema = errors.New("invalid schema document")
)

// ============================================================================
// Category predicates
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsSchemaError returns true if err arose from schema registration.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrDuplicateVersion) ||
		errors.Is(err, ErrNonMonotonicVersion) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrDuplicateField) ||
		errors.Is(err, ErrUnknownTarget) ||
		errors.Is(err, ErrUnknownMetric)
}

// IsValidationError returns true if err arose from per-observation validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnexpectedField) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrUnknownVersion)
}

// IsAggregationError returns true if err arose inside the histogram engine.
func IsAggregationError(err error) bool {
	return errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrOverflow)
}

// ============================================================================
// Wrapping utilities
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

// ============================================================================
// Constructors with context
// ============================================================================

// NewUnknownField builds an unknown-field error naming the offender.
func NewUnknownField(target, metric, field string) error {
	if metric == "" {
		return fmt.Errorf("target %q field %q: %w", target, field, ErrUnknownField)
	}
	return fmt.Errorf("target %q metric %q field %q: %w", target, metric, field, ErrUnknownField)
}

// NewDuplicateVersion builds a duplicate-version error for a republished
// version whose contents differ from the original record.
func NewDuplicateVersion(scope string, version uint32) error {
	return fmt.Errorf("%s version %d: %w", scope, version, ErrDuplicateVersion)
}

// NewNonMonotonicVersion builds a version-ordering error.
func NewNonMonotonicVersion(scope string, got, want uint32) error {
	return fmt.Errorf("%s: got version %d, expected %d: %w", scope, got, want, ErrNonMonotonicVersion)
}

// NewTypeMismatch builds a type-mismatch error for one field value.
func NewTypeMismatch(field, declared, got string) error {
	return fmt.Errorf("field %q declared %s, got %s: %w", field, declared, got, ErrTypeMismatch)
}

// NewSchemaDocError wraps a schema-document parse failure with its file path.
func NewSchemaDocError(path string, err error) error {
	return fmt.Errorf("schema document %s: %v: %w", path, err, ErrInvalidSchema)
}
