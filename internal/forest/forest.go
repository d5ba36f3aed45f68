// Package forest implements a random-forest classifier over CART trees.
//
// Trees are grown on bootstrap samples with per-node feature subsampling.
// Each tree draws from its own generator seeded by the forest seed and the
// tree index, and trees are written back by index, so a fit is reproducible
// for a given seed regardless of the worker count.
package forest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// predictChunkRows is the number of rows scored per worker task.
const predictChunkRows = 2048

// Forest is a random-forest classifier. Exported fields are gob encoded by
// the artifact package.
type Forest struct {
	Params Params
	Trees  []*Tree
	// Labels are the distinct training labels in ascending order. Class
	// probability columns follow this order.
	Labels      []int
	NFeatures   int
	Importances []float64
}

// New returns an unfitted forest.
func New(params Params) *Forest {
	return &Forest{Params: params}
}

// Fit grows the forest on X (rows x features) and labels y.
func (f *Forest) Fit(X *mat.Dense, y []int) error {
	return f.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation between trees.
func (f *Forest) FitContext(ctx context.Context, X *mat.Dense, y []int) error {
	if err := f.Params.Validate(); err != nil {
		return err
	}
	rows, numFeatures := X.Dims()
	if rows == 0 || numFeatures == 0 {
		return dgerrors.NewValidationError("Fit", "", "training matrix is empty")
	}
	if len(y) != rows {
		return dgerrors.NewSchemaError("Fit", fmt.Sprintf("matrix has %d rows but %d labels", rows, len(y)))
	}
	maxFeatures, err := f.Params.featuresPerSplit(numFeatures)
	if err != nil {
		return err
	}

	cols := make([][]float64, numFeatures)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
		if floats.HasNaN(cols[j]) {
			return dgerrors.NewValidationError("Fit", fmt.Sprintf("feature %d", j), "contains NaN")
		}
	}

	labels := slices.Clone(y)
	slices.Sort(labels)
	labels = slices.Compact(labels)
	classOf := make(map[int]int, len(labels))
	for i, label := range labels {
		classOf[label] = i
	}
	encoded := make([]int, rows)
	for i, label := range y {
		encoded[i] = classOf[label]
	}

	pool := parallel.NewWorkerPoolContext(ctx, f.Params.Workers)
	defer pool.Close()

	seeds := make([]uint64, f.Params.Estimators)
	trees, err := parallel.ProcessIndexedErr(pool, seeds, func(idx int, _ uint64) (*Tree, error) {
		rng := rand.New(rand.NewPCG(f.Params.Seed, uint64(idx)))
		samples := make([]int, rows)
		for i := range samples {
			if f.Params.Bootstrap {
				samples[i] = rng.IntN(rows)
			} else {
				samples[i] = i
			}
		}
		b := newTreeBuilder(cols, encoded, len(labels), f.Params, maxFeatures, rng)
		return b.build(samples), nil
	})
	if err != nil {
		return fmt.Errorf("fitting forest: %w", err)
	}

	f.Trees = trees
	f.Labels = labels
	f.NFeatures = numFeatures
	f.Importances = meanImportances(trees, numFeatures)
	return nil
}

// meanImportances averages the per-tree normalised impurity decrease and
// renormalises so the result sums to one.
func meanImportances(trees []*Tree, numFeatures int) []float64 {
	out := make([]float64, numFeatures)
	for _, t := range trees {
		imp := slices.Clone(t.importance)
		if sum := floats.Sum(imp); sum > 0 {
			floats.Scale(1/sum, imp)
			floats.Add(out, imp)
		}
	}
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}

// Fitted reports whether the forest holds trees.
func (f *Forest) Fitted() bool {
	return len(f.Trees) > 0
}

// Classes returns the labels in probability column order.
func (f *Forest) Classes() []int {
	return slices.Clone(f.Labels)
}

// NumFeatures returns the feature count seen during Fit.
func (f *Forest) NumFeatures() int {
	return f.NFeatures
}

// FeatureImportances returns the mean decrease in impurity per feature.
func (f *Forest) FeatureImportances() []float64 {
	return slices.Clone(f.Importances)
}

// PredictProba returns the mean class probabilities of all trees, one row
// per input row and one column per class in Classes order.
func (f *Forest) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if !f.Fitted() {
		return nil, dgerrors.NewInternalError("Predict", fmt.Errorf("forest is not fitted"))
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, dgerrors.NewValidationError("Predict", "", "no rows to predict")
	}
	if cols != f.NFeatures {
		return nil, dgerrors.NewSchemaError("Predict",
			fmt.Sprintf("matrix has %d features, model was trained on %d", cols, f.NFeatures))
	}

	numClasses := len(f.Labels)
	out := mat.NewDense(rows, numClasses, nil)

	pool := parallel.NewWorkerPool(f.Params.Workers)
	defer pool.Close()

	parallel.ProcessIndexed(pool, parallel.Chunks(rows, predictChunkRows), func(_ int, r parallel.Range) struct{} {
		row := make([]float64, cols)
		acc := make([]float64, numClasses)
		for i := r.Start; i < r.End; i++ {
			mat.Row(row, i, X)
			clear(acc)
			for _, t := range f.Trees {
				floats.Add(acc, t.Proba(row))
			}
			floats.Scale(1/float64(len(f.Trees)), acc)
			out.SetRow(i, acc)
		}
		return struct{}{}
	})
	return out, nil
}

// Predict returns the label with the highest mean probability for each row.
// Ties go to the smallest label.
func (f *Forest) Predict(X *mat.Dense) ([]int, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := make([]int, rows)
	for i := range out {
		p := proba.RawRowView(i)
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = f.Labels[best]
	}
	return out, nil
}
