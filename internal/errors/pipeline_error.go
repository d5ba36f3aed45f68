// Package errors provides standardized error types for pipeline stages.
// This package defines PipelineError for consistent error handling across
// loading, encoding, training and prediction, with an error kind that callers
// can match through errors.Is and operation context for the operator.
package errors

import (
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindInternal is an unexpected failure inside a stage.
	KindInternal Kind = iota
	// KindInput is a missing file, malformed CSV or unusable value.
	KindInput
	// KindEncoding is a categorical code without an entry in its codebook column.
	KindEncoding
	// KindSchema is a column set, order or width that does not match what a stage expects.
	KindSchema
	// KindConfig is an invalid configuration value.
	KindConfig
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindEncoding:
		return "encoding"
	case KindSchema:
		return "schema"
	case KindConfig:
		return "config"
	default:
		return "internal"
	}
}

// PipelineError represents standardized errors across all pipeline stages
type PipelineError struct {
	Op      string // Operation name (e.g., "Encode", "Split", "Predict")
	Column  string // Column name if applicable
	Kind    Kind   // Failure class
	Message string // Human-readable error description
	Hint    string // Optional remediation shown after the message
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var sb strings.Builder
	if e.Column != "" {
		sb.WriteString(fmt.Sprintf("%s %s error on column '%s': %s", e.Op, e.Kind, e.Column, e.Message))
	} else {
		sb.WriteString(fmt.Sprintf("%s %s error: %s", e.Op, e.Kind, e.Message))
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	if e.Hint != "" {
		sb.WriteString(" (Hint: ")
		sb.WriteString(e.Hint)
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap returns the underlying cause for error wrapping support
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PipelineError of the same kind whose
// non-empty Op, Column and Message fields also match. Sentinel errors carry
// only a kind, so errors.Is(err, ErrEncoding) matches every encoding failure.
func (e *PipelineError) Is(target error) bool {
	pe, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	if pe.Kind != e.Kind {
		return false
	}
	return matches(pe.Op, e.Op) && matches(pe.Column, e.Column) && matches(pe.Message, e.Message)
}

func matches(want, got string) bool {
	return want == "" || want == got
}

// WithHint returns a copy of the error carrying a remediation hint.
func (e *PipelineError) WithHint(hint string) *PipelineError {
	cp := *e
	cp.Hint = hint
	return &cp
}

// Sentinels for errors.Is matching by kind.
var (
	ErrInput    = &PipelineError{Kind: KindInput}
	ErrEncoding = &PipelineError{Kind: KindEncoding}
	ErrSchema   = &PipelineError{Kind: KindSchema}
	ErrConfig   = &PipelineError{Kind: KindConfig}
	ErrInternal = &PipelineError{Kind: KindInternal}
)

// Common error constructors for consistent error creation

// NewInputError creates an error for unreadable or malformed input.
func NewInputError(op, message string, cause error) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    KindInput,
		Message: message,
		Cause:   cause,
	}
}

// NewEncodingError creates an error for a categorical code missing from its codebook column.
func NewEncodingError(op, column string, row int, code string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Column:  column,
		Kind:    KindEncoding,
		Message: fmt.Sprintf("code %q at row %d has no codebook entry", code, row),
	}
}

// NewColumnNotFoundError creates an error for operations on non-existent columns
func NewColumnNotFoundError(op, column string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Column:  column,
		Kind:    KindSchema,
		Message: "column does not exist",
	}
}

// NewSchemaError creates an error for column set, order or width mismatches.
func NewSchemaError(op, message string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    KindSchema,
		Message: message,
	}
}

// NewValidationError creates an error for input validation failures
func NewValidationError(op, column, message string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Column:  column,
		Kind:    KindInput,
		Message: message,
	}
}

// NewConfigError creates an error for invalid configuration values.
func NewConfigError(op, message string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    KindConfig,
		Message: message,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    KindInternal,
		Message: "internal error occurred",
		Cause:   cause,
	}
}
