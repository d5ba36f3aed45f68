package forest_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// bands builds rows whose label depends on feature 0 only; features 1 and 2
// are noise.
func bands(n int, seed uint64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewPCG(seed, 0))
	X := mat.NewDense(n, 3, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := rng.Float64() * 30
		X.Set(i, 0, v)
		X.Set(i, 1, rng.Float64())
		X.Set(i, 2, float64(rng.IntN(4)))
		switch {
		case v < 10:
			y[i] = 1
		case v < 20:
			y[i] = 2
		default:
			y[i] = 3
		}
	}
	return X, y
}

func smallParams() forest.Params {
	p := forest.DefaultParams()
	p.Estimators = 15
	p.MaxDepth = 8
	p.MinSamplesSplit = 2
	p.MaxFeatures = "all"
	return p
}

func TestForestFitPredict(t *testing.T) {
	X, y := bands(600, 1)
	f := forest.New(smallParams())
	require.NoError(t, f.Fit(X, y))

	assert.True(t, f.Fitted())
	assert.Equal(t, []int{1, 2, 3}, f.Classes())
	assert.Equal(t, 3, f.NumFeatures())
	assert.Len(t, f.Trees, 15)

	testX, testY := bands(200, 2)
	pred, err := f.Predict(testX)
	require.NoError(t, err)
	correct := 0
	for i := range pred {
		if pred[i] == testY[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(pred)), 0.95)
}

func TestForestPredictProba(t *testing.T) {
	X, y := bands(300, 3)
	f := forest.New(smallParams())
	require.NoError(t, f.Fit(X, y))

	proba, err := f.PredictProba(X)
	require.NoError(t, err)
	rows, cols := proba.Dims()
	assert.Equal(t, 300, rows)
	assert.Equal(t, 3, cols)
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, floats.Sum(proba.RawRowView(i)), 1e-9)
	}
}

func TestForestImportances(t *testing.T) {
	X, y := bands(600, 4)
	f := forest.New(smallParams())
	require.NoError(t, f.Fit(X, y))

	imp := f.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, floats.Sum(imp), 1e-9)
	assert.Equal(t, 0, floats.MaxIdx(imp), "the label-bearing feature dominates")
	assert.Greater(t, imp[0], 0.8)

	imp[0] = -1
	assert.NotEqual(t, -1.0, f.FeatureImportances()[0], "returns a copy")
}

func TestForestDeterminism(t *testing.T) {
	X, y := bands(400, 5)

	p := smallParams()
	p.MaxFeatures = "sqrt"
	p.Workers = 1
	a := forest.New(p)
	require.NoError(t, a.Fit(X, y))

	p.Workers = 4
	b := forest.New(p)
	require.NoError(t, b.Fit(X, y))

	assert.Equal(t, a.Importances, b.Importances)
	pa, err := a.PredictProba(X)
	require.NoError(t, err)
	pb, err := b.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb))

	p.Seed = 99
	c := forest.New(p)
	require.NoError(t, c.Fit(X, y))
	assert.NotEqual(t, a.Importances, c.Importances)
}

func TestForestPredictRejectsWidth(t *testing.T) {
	X, y := bands(100, 6)
	f := forest.New(smallParams())
	require.NoError(t, f.Fit(X, y))

	_, err := f.Predict(mat.NewDense(2, 4, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dgerrors.ErrSchema))
}

func TestForestFitErrors(t *testing.T) {
	X, y := bands(20, 7)

	t.Run("label count", func(t *testing.T) {
		err := forest.New(smallParams()).Fit(X, y[:10])
		assert.True(t, errors.Is(err, dgerrors.ErrSchema))
	})

	t.Run("unfitted predict", func(t *testing.T) {
		_, err := forest.New(smallParams()).Predict(X)
		assert.True(t, errors.Is(err, dgerrors.ErrInternal))
	})

	invalid := []struct {
		name   string
		mutate func(*forest.Params)
	}{
		{"no trees", func(p *forest.Params) { p.Estimators = 0 }},
		{"criterion", func(p *forest.Params) { p.Criterion = "mse" }},
		{"min split", func(p *forest.Params) { p.MinSamplesSplit = 1 }},
		{"min leaf", func(p *forest.Params) { p.MinSamplesLeaf = 0 }},
		{"max features word", func(p *forest.Params) { p.MaxFeatures = "most" }},
		{"max features fraction", func(p *forest.Params) { p.MaxFeatures = "1.5" }},
		{"max features zero", func(p *forest.Params) { p.MaxFeatures = "0" }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			p := smallParams()
			tt.mutate(&p)
			err := forest.New(p).Fit(X, y)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dgerrors.ErrConfig))
		})
	}
}

func TestTreeShape(t *testing.T) {
	X, y := bands(500, 8)
	p := smallParams()
	p.Estimators = 1
	p.MaxDepth = 3
	p.Bootstrap = false
	f := forest.New(p)
	require.NoError(t, f.Fit(X, y))

	tree := f.Trees[0]
	assert.LessOrEqual(t, tree.Depth(), 3)
	assert.Greater(t, tree.NumNodes(), 1)
	assert.Len(t, tree.Value, tree.NumNodes()*3)
}

func TestEntropyCriterion(t *testing.T) {
	X, y := bands(300, 9)
	p := smallParams()
	p.Criterion = forest.CriterionEntropy
	f := forest.New(p)
	require.NoError(t, f.Fit(X, y))

	pred, err := f.Predict(X)
	require.NoError(t, err)
	assert.Len(t, pred, 300)
}
