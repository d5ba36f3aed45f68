// Package validation provides input validation utilities for pipeline stages.
// It implements reusable validators for column existence, length consistency,
// index bounds, value ranges and non-empty tables.
package validation

import (
	"fmt"
	"strings"

	"github.com/paveg/damagegrade/internal/errors"
)

// Validator interface for input validation
type Validator interface {
	Validate() error
}

// ColumnProvider interface for types that provide column information
type ColumnProvider interface {
	HasColumn(name string) bool
	Columns() []string
	Len() int
	Width() int
}

// ColumnValidator validates column existence
type ColumnValidator struct {
	df      ColumnProvider
	columns []string
	op      string
}

// NewColumnValidator creates a validator for column operations
func NewColumnValidator(df ColumnProvider, op string, columns ...string) *ColumnValidator {
	return &ColumnValidator{
		df:      df,
		columns: columns,
		op:      op,
	}
}

// Validate checks if all columns exist in the table
func (v *ColumnValidator) Validate() error {
	for _, column := range v.columns {
		if !v.df.HasColumn(column) {
			return errors.NewColumnNotFoundError(v.op, column).
				WithHint("available columns: " + strings.Join(v.df.Columns(), ", "))
		}
	}
	return nil
}

// LengthValidator validates array length consistency
type LengthValidator struct {
	expected int
	actual   int
	op       string
	context  string
}

// NewLengthValidator creates a validator for length consistency
func NewLengthValidator(expected, actual int, op, context string) *LengthValidator {
	return &LengthValidator{
		expected: expected,
		actual:   actual,
		op:       op,
		context:  context,
	}
}

// Validate checks if lengths match
func (v *LengthValidator) Validate() error {
	if v.expected != v.actual {
		message := fmt.Sprintf("%s: expected length %d, got %d", v.context, v.expected, v.actual)
		return errors.NewSchemaError(v.op, message)
	}
	return nil
}

// OpenRangeValidator checks that a value lies strictly between two bounds.
type OpenRangeValidator struct {
	value    float64
	low      float64
	high     float64
	op       string
	argument string
}

// NewOpenRangeValidator creates a validator for low < value < high.
func NewOpenRangeValidator(value, low, high float64, op, argument string) *OpenRangeValidator {
	return &OpenRangeValidator{value: value, low: low, high: high, op: op, argument: argument}
}

// Validate checks the bounds
func (v *OpenRangeValidator) Validate() error {
	if !(v.value > v.low && v.value < v.high) {
		return errors.NewConfigError(v.op,
			fmt.Sprintf("%s must be in (%g, %g), got %g", v.argument, v.low, v.high, v.value))
	}
	return nil
}

// EmptyValidator validates operations that need at least one row
type EmptyValidator struct {
	df ColumnProvider
	op string
}

// NewEmptyValidator creates a validator for empty table checks
func NewEmptyValidator(df ColumnProvider, op string) *EmptyValidator {
	return &EmptyValidator{
		df: df,
		op: op,
	}
}

// Validate checks if the table is empty when the operation requires data
func (v *EmptyValidator) Validate() error {
	if v.df.Len() == 0 {
		return errors.NewValidationError(v.op, "", "operation not supported on empty table")
	}
	return nil
}

// Convenience validation functions

// ValidateColumns is a convenience function for column validation
func ValidateColumns(df ColumnProvider, op string, columns ...string) error {
	return NewColumnValidator(df, op, columns...).Validate()
}

// ValidateLength is a convenience function for length validation
func ValidateLength(expected, actual int, op, context string) error {
	return NewLengthValidator(expected, actual, op, context).Validate()
}

// ValidateOpenRange is a convenience function for open-interval checks
func ValidateOpenRange(value, low, high float64, op, argument string) error {
	return NewOpenRangeValidator(value, low, high, op, argument).Validate()
}

// ValidateNotEmpty is a convenience function for empty table validation
func ValidateNotEmpty(df ColumnProvider, op string) error {
	return NewEmptyValidator(df, op).Validate()
}

// ValidateColumnOrder checks that got names exactly the columns of want in
// the same order.
func ValidateColumnOrder(want, got []string, op string) error {
	if len(want) != len(got) {
		return errors.NewSchemaError(op, fmt.Sprintf("expected %d columns, got %d", len(want), len(got)))
	}
	for i := range want {
		if want[i] != got[i] {
			return errors.NewSchemaError(op,
				fmt.Sprintf("column %d is %q, expected %q", i, got[i], want[i]))
		}
	}
	return nil
}
