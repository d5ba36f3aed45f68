// Package selection chooses a subset of feature columns from forest
// importances, either by an importance threshold or by recursive
// elimination.
package selection

import (
	"context"
	"fmt"
	"slices"

	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/validation"
	"gonum.org/v1/gonum/mat"
)

// Selector picks features from a training matrix.
type Selector interface {
	// Fit learns which of the named columns of X to keep.
	Fit(ctx context.Context, X *mat.Dense, y []int, names []string) error
	// Support is the feature mask over the original column order.
	Support() []bool
	// Selected returns the kept column names in original order.
	Selected() []string
	// Importances returns the importance of every original column. Columns
	// that were never scored report zero.
	Importances() []float64
}

// mask is the shared result state of a fitted selector.
type mask struct {
	names       []string
	support     []bool
	importances []float64
}

func (m *mask) Support() []bool {
	return slices.Clone(m.support)
}

func (m *mask) Selected() []string {
	return Selected(m.names, m.support)
}

func (m *mask) Importances() []float64 {
	return slices.Clone(m.importances)
}

// Selected returns the names whose mask entry is set.
func Selected(names []string, support []bool) []string {
	out := make([]string, 0, len(names))
	for i, keep := range support {
		if keep {
			out = append(out, names[i])
		}
	}
	return out
}

func checkInputs(op string, X *mat.Dense, y []int, names []string) error {
	rows, cols := X.Dims()
	if err := validation.ValidateLength(cols, len(names), op, "feature names"); err != nil {
		return err
	}
	if err := validation.ValidateLength(rows, len(y), op, "labels"); err != nil {
		return err
	}
	if cols == 0 {
		return dgerrors.NewValidationError(op, "", "no features to select from")
	}
	return nil
}

// Columns copies the masked columns of X into a new matrix.
func Columns(X *mat.Dense, support []bool) (*mat.Dense, error) {
	rows, cols := X.Dims()
	if err := validation.ValidateLength(cols, len(support), "Columns", "feature mask"); err != nil {
		return nil, err
	}
	keep := make([]int, 0, cols)
	for j, ok := range support {
		if ok {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return nil, dgerrors.NewValidationError("Columns", "", "mask selects no features")
	}

	out := mat.NewDense(rows, len(keep), nil)
	col := make([]float64, rows)
	for k, j := range keep {
		mat.Col(col, j, X)
		out.SetCol(k, col)
	}
	return out, nil
}

// ApplyMask selects the masked columns of df by name, in mask order.
func ApplyMask(df *dataframe.DataFrame, names []string, support []bool) (*dataframe.DataFrame, error) {
	if len(names) != len(support) {
		return nil, dgerrors.NewSchemaError("ApplyMask",
			fmt.Sprintf("mask covers %d features but %d names were given", len(support), len(names)))
	}
	return df.SelectStrict("ApplyMask", Selected(names, support)...)
}
