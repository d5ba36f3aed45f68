// Package dataframe provides the in-memory tables the pipeline loads, encodes,
// splits and feeds to the classifier.
package dataframe

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/validation"
	"gonum.org/v1/gonum/mat"
)

// DataFrame represents a table of data with typed columns
type DataFrame struct {
	columns map[string]ISeries
	order   []string // Maintains column order
}

// New creates a new DataFrame from a slice of ISeries
func New(series ...ISeries) *DataFrame {
	columns := make(map[string]ISeries)
	order := make([]string, 0, len(series))

	for _, s := range series {
		name := s.Name()
		if _, dup := columns[name]; !dup {
			order = append(order, name)
		}
		columns[name] = s
	}

	return &DataFrame{
		columns: columns,
		order:   order,
	}
}

// Columns returns the names of all columns in order
func (df *DataFrame) Columns() []string {
	if len(df.order) == 0 {
		return []string{}
	}
	return append([]string(nil), df.order...)
}

// Len returns the number of rows (assumes all columns have same length)
func (df *DataFrame) Len() int {
	if len(df.order) == 0 {
		return 0
	}
	return df.columns[df.order[0]].Len()
}

// Width returns the number of columns
func (df *DataFrame) Width() int {
	return len(df.columns)
}

// Column returns the series for the given column name
func (df *DataFrame) Column(name string) (ISeries, bool) {
	series, exists := df.columns[name]
	return series, exists
}

// HasColumn checks if a column exists
func (df *DataFrame) HasColumn(name string) bool {
	_, exists := df.columns[name]
	return exists
}

// Select returns a new DataFrame with only the specified columns, in the
// order they are named. Missing columns are skipped; use SelectStrict when
// absence is an error.
func (df *DataFrame) Select(names ...string) *DataFrame {
	newColumns := make(map[string]ISeries)
	newOrder := make([]string, 0, len(names))

	for _, name := range names {
		if series, exists := df.columns[name]; exists {
			newColumns[name] = series
			newOrder = append(newOrder, name)
		}
	}

	return &DataFrame{
		columns: newColumns,
		order:   newOrder,
	}
}

// SelectStrict is Select that fails with a schema error naming the first
// missing column.
func (df *DataFrame) SelectStrict(op string, names ...string) (*DataFrame, error) {
	if err := validation.ValidateColumns(df, op, names...); err != nil {
		return nil, err
	}
	return df.Select(names...), nil
}

// Drop returns a new DataFrame without the specified columns
func (df *DataFrame) Drop(names ...string) *DataFrame {
	dropSet := make(map[string]bool)
	for _, name := range names {
		dropSet[name] = true
	}

	newColumns := make(map[string]ISeries)
	newOrder := make([]string, 0, len(df.order))

	for _, name := range df.order {
		if !dropSet[name] {
			newColumns[name] = df.columns[name]
			newOrder = append(newOrder, name)
		}
	}

	return &DataFrame{
		columns: newColumns,
		order:   newOrder,
	}
}

// WithColumn replaces the column of the same name in place, keeping its
// position, or appends it when no such column exists. The replaced series is
// released.
func (df *DataFrame) WithColumn(s ISeries) error {
	if len(df.order) > 0 && s.Len() != df.Len() {
		return validation.ValidateLength(df.Len(), s.Len(), "WithColumn", s.Name())
	}
	name := s.Name()
	if old, exists := df.columns[name]; exists {
		old.Release()
	} else {
		df.order = append(df.order, name)
	}
	df.columns[name] = s
	return nil
}

// String returns a string representation of the DataFrame
func (df *DataFrame) String() string {
	if len(df.columns) == 0 {
		return "DataFrame[empty]"
	}

	parts := []string{fmt.Sprintf("DataFrame[%dx%d]", df.Len(), df.Width())}

	for _, name := range df.order {
		series := df.columns[name]
		parts = append(parts, fmt.Sprintf("  %s: %s", name, series.DataType().String()))
	}

	return strings.Join(parts, "\n")
}

// Int64Values returns the named column as int64 values. Float columns are
// rejected rather than truncated.
func (df *DataFrame) Int64Values(op, name string) ([]int64, error) {
	s, ok := df.columns[name]
	if !ok {
		return nil, dgerrors.NewColumnNotFoundError(op, name).WithHint(
			fmt.Sprintf("available columns: %s", strings.Join(df.order, ", ")))
	}
	arr := s.Array()
	defer arr.Release()

	typed, ok := arr.(*array.Int64)
	if !ok {
		return nil, &dgerrors.PipelineError{
			Op:      op,
			Column:  name,
			Kind:    dgerrors.KindSchema,
			Message: fmt.Sprintf("expected int64 column, got %s", arr.DataType()),
		}
	}
	out := make([]int64, typed.Len())
	copy(out, typed.Int64Values())
	return out, nil
}

// Matrix copies the named numeric columns into a dense row-major matrix, one
// row per table row and one matrix column per name in the given order.
func (df *DataFrame) Matrix(names ...string) (*mat.Dense, error) {
	if err := validation.ValidateColumns(df, "Matrix", names...); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty(df, "Matrix"); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, dgerrors.NewSchemaError("Matrix", "no feature columns given")
	}

	rows := df.Len()
	m := mat.NewDense(rows, len(names), nil)
	for j, name := range names {
		if err := fillColumn(m, j, df.columns[name]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func fillColumn(m *mat.Dense, j int, s ISeries) error {
	arr := s.Array()
	defer arr.Release()

	switch typed := arr.(type) {
	case *array.Int64:
		for i := 0; i < typed.Len(); i++ {
			m.Set(i, j, float64(typed.Value(i)))
		}
	case *array.Float64:
		for i := 0; i < typed.Len(); i++ {
			m.Set(i, j, typed.Value(i))
		}
	case *array.Boolean:
		for i := 0; i < typed.Len(); i++ {
			if typed.Value(i) {
				m.Set(i, j, 1)
			}
		}
	default:
		return &dgerrors.PipelineError{
			Op:      "Matrix",
			Column:  s.Name(),
			Kind:    dgerrors.KindSchema,
			Message: fmt.Sprintf("column is %s, not numeric; encode it first", arr.DataType()),
		}
	}
	return nil
}

// DataType returns the Arrow type ID of a column.
func (df *DataFrame) DataType(name string) (arrow.Type, bool) {
	s, ok := df.columns[name]
	if !ok {
		return arrow.NULL, false
	}
	return s.DataType().ID(), true
}

// Release releases all underlying Arrow memory
func (df *DataFrame) Release() {
	for _, series := range df.columns {
		series.Release()
	}
}
