package selection_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	"github.com/paveg/damagegrade/internal/selection"
	"github.com/paveg/damagegrade/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var featureNames = []string{"age", "noise_a", "area_percentage", "noise_b", "noise_c"}

// survey builds rows labelled by age and area_percentage; the other columns
// are noise.
func survey(n int) (*mat.Dense, []int) {
	rng := rand.New(rand.NewPCG(42, 0))
	X := mat.NewDense(n, len(featureNames), nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		age := float64(rng.IntN(100))
		area := float64(rng.IntN(40))
		X.Set(i, 0, age)
		X.Set(i, 1, rng.Float64())
		X.Set(i, 2, area)
		X.Set(i, 3, rng.Float64())
		X.Set(i, 4, float64(rng.IntN(3)))
		switch {
		case age < 30:
			y[i] = 1
		case area < 20:
			y[i] = 2
		default:
			y[i] = 3
		}
	}
	return X, y
}

func quickParams() forest.Params {
	p := forest.DefaultParams()
	p.Estimators = 10
	p.MaxDepth = 6
	p.MinSamplesSplit = 2
	p.MaxFeatures = "all"
	return p
}

func TestParseThreshold(t *testing.T) {
	importances := []float64{0.1, 0.2, 0.3, 0.4}

	tests := []struct {
		expr string
		want float64
	}{
		{"mean", 0.25},
		{"", 0.25},
		{"median", 0.25},
		{"2*mean", 0.5},
		{"0.5 * median", 0.125},
		{"0.3", 0.3},
		{"MEAN", 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := selection.ParseThreshold(tt.expr, importances)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	for _, bad := range []string{
		"mode", "x*mean", "2*0.3", "mean*2",
		"nan", "NaN", "inf", "-inf", "+Inf", "infinity", "nan*mean", "inf*median",
	} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := selection.ParseThreshold(bad, importances)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dgerrors.ErrConfig))
		})
	}
}

func TestParseThresholdMedian(t *testing.T) {
	got, err := selection.ParseThreshold("median", []float64{0.4, 0.1, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-12)

	got, err = selection.ParseThreshold("median", []float64{0.05, 0.5, 0.1, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got, 1e-12)

	got, err = selection.ParseThreshold("median", nil)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestImportanceThresholdFromImportances(t *testing.T) {
	s := selection.NewImportanceThreshold("mean", forest.DefaultParams())
	require.NoError(t, s.FitFromImportances([]float64{0.5, 0.05, 0.3, 0.1, 0.05}, featureNames))

	assert.Equal(t, []bool{true, false, true, false, false}, s.Support())
	assert.Equal(t, []string{"age", "area_percentage"}, s.Selected())
	assert.InDelta(t, 0.2, s.Cutoff(), 1e-12)

	err := s.FitFromImportances([]float64{0.5}, featureNames)
	assert.True(t, errors.Is(err, dgerrors.ErrSchema))

	high := selection.NewImportanceThreshold("0.9", forest.DefaultParams())
	err = high.FitFromImportances([]float64{0.5, 0.05, 0.3, 0.1, 0.05}, featureNames)
	assert.True(t, errors.Is(err, dgerrors.ErrInput))
}

func TestImportanceThresholdFit(t *testing.T) {
	X, y := survey(800)
	s := selection.NewImportanceThreshold("mean", quickParams())
	require.NoError(t, s.Fit(context.Background(), X, y, featureNames))

	assert.Len(t, s.Support(), len(featureNames))
	assert.Contains(t, s.Selected(), "age")
	assert.Contains(t, s.Selected(), "area_percentage")
	assert.NotContains(t, s.Selected(), "noise_c")
}

func TestRecursive(t *testing.T) {
	X, y := survey(800)
	s := selection.NewRecursive(2, 1, quickParams())
	require.NoError(t, s.Fit(context.Background(), X, y, featureNames))

	support := s.Support()
	kept := 0
	for _, ok := range support {
		if ok {
			kept++
		}
	}
	assert.Equal(t, 2, kept)
	assert.ElementsMatch(t, []string{"age", "area_percentage"}, s.Selected())
	assert.Equal(t, 3, s.Rounds())

	ranking := s.Ranking()
	assert.Equal(t, 1, ranking[0])
	assert.Equal(t, 1, ranking[2])
	seen := map[int]bool{}
	for j, r := range ranking {
		if !support[j] {
			assert.Greater(t, r, 1)
			assert.False(t, seen[r], "one feature eliminated per round")
			seen[r] = true
		}
	}

	imp := s.Importances()
	assert.Zero(t, imp[1])
	assert.Positive(t, imp[0])
}

func TestRecursiveStepLargerThanRemaining(t *testing.T) {
	X, y := survey(300)
	s := selection.NewRecursive(3, 10, quickParams())
	require.NoError(t, s.Fit(context.Background(), X, y, featureNames))
	assert.Len(t, s.Selected(), 3)
	assert.Equal(t, 1, s.Rounds())
}

func TestRecursiveInvalid(t *testing.T) {
	X, y := survey(50)
	for _, tc := range []struct {
		name         string
		target, step int
	}{
		{"zero target", 0, 1},
		{"target above width", 6, 1},
		{"zero step", 2, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := selection.NewRecursive(tc.target, tc.step, quickParams()).
				Fit(context.Background(), X, y, featureNames)
			assert.True(t, errors.Is(err, dgerrors.ErrConfig))
		})
	}

	t.Run("name count", func(t *testing.T) {
		err := selection.NewRecursive(1, 1, quickParams()).Fit(context.Background(), X, y, featureNames[:2])
		assert.True(t, errors.Is(err, dgerrors.ErrSchema))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := selection.NewRecursive(1, 1, quickParams()).Fit(ctx, X, y, featureNames)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestColumnsAndApplyMask(t *testing.T) {
	X := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	sub, err := selection.Columns(X, []bool{true, false, true})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 4, 6}, sub.RawMatrix().Data)

	_, err = selection.Columns(X, []bool{false, false, false})
	assert.Error(t, err)

	mem := memory.NewGoAllocator()
	df := dataframe.New(
		series.New("a", []int64{1, 2}, mem),
		series.New("b", []int64{3, 4}, mem),
		series.New("c", []int64{5, 6}, mem),
	)
	defer df.Release()

	masked, err := selection.ApplyMask(df, []string{"a", "b", "c"}, []bool{false, true, true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, masked.Columns())

	_, err = selection.ApplyMask(df, []string{"a", "b"}, []bool{true})
	assert.True(t, errors.Is(err, dgerrors.ErrSchema))

	_, err = selection.ApplyMask(df, []string{"a", "zzz"}, []bool{true, true})
	assert.True(t, errors.Is(err, dgerrors.ErrSchema))
}
