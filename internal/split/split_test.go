package split_test

import (
	"errors"
	"math"
	"testing"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/split"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// competitionLabels reproduces the 260,601-row class mix of the survey.
func competitionLabels() []int64 {
	counts := map[int64]int{1: 25124, 2: 148259, 3: 87218}
	labels := make([]int64, 0, 260601)
	// interleave so classes are not contiguous
	for len(labels) < 260601 {
		for _, class := range []int64{2, 3, 2, 1, 3, 2} {
			if counts[class] > 0 {
				labels = append(labels, class)
				counts[class]--
			}
		}
	}
	return labels
}

func TestStratified(t *testing.T) {
	labels := competitionLabels()
	require.Len(t, labels, 260601)

	s, err := split.Stratified(labels, 0.1, 12)
	require.NoError(t, err)

	t.Run("sizes", func(t *testing.T) {
		assert.Equal(t, int(math.Ceil(0.1*260601)), len(s.Holdout))
		assert.Equal(t, len(labels), len(s.Train)+len(s.Holdout))
	})

	t.Run("disjoint and covering", func(t *testing.T) {
		seen := make([]bool, len(labels))
		for _, idx := range append(append([]int{}, s.Train...), s.Holdout...) {
			require.False(t, seen[idx], "index %d appears twice", idx)
			seen[idx] = true
		}
		for i, ok := range seen {
			require.True(t, ok, "index %d missing", i)
		}
	})

	t.Run("ascending", func(t *testing.T) {
		assert.IsIncreasing(t, s.Train)
		assert.IsIncreasing(t, s.Holdout)
	})

	t.Run("class shares within one point", func(t *testing.T) {
		overall := split.Proportions(labels)
		for _, part := range [][]int{s.Train, s.Holdout} {
			sub := make([]int64, len(part))
			for i, idx := range part {
				sub[i] = labels[idx]
			}
			shares := split.Proportions(sub)
			require.Len(t, shares, len(overall))
			for i := range shares {
				assert.Equal(t, overall[i].Class, shares[i].Class)
				assert.InDelta(t, overall[i].Share, shares[i].Share, 0.01)
			}
		}
	})

	t.Run("deterministic for a seed", func(t *testing.T) {
		again, err := split.Stratified(labels, 0.1, 12)
		require.NoError(t, err)
		assert.Equal(t, s.Holdout, again.Holdout)

		other, err := split.Stratified(labels, 0.1, 13)
		require.NoError(t, err)
		assert.NotEqual(t, s.Holdout, other.Holdout)
	})
}

func TestStratifiedErrors(t *testing.T) {
	tests := []struct {
		name     string
		labels   []int64
		fraction float64
		want     error
	}{
		{"zero fraction", []int64{1, 1, 2, 2}, 0, dgerrors.ErrConfig},
		{"fraction one", []int64{1, 1, 2, 2}, 1, dgerrors.ErrConfig},
		{"negative fraction", []int64{1, 1, 2, 2}, -0.2, dgerrors.ErrConfig},
		{"no labels", nil, 0.1, dgerrors.ErrInput},
		{"singleton class", []int64{1, 1, 1, 2}, 0.25, dgerrors.ErrInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := split.Stratified(tt.labels, tt.fraction, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStratifiedSmall(t *testing.T) {
	labels := []int64{1, 2, 2, 2, 1, 3, 3, 2, 2, 3}
	s, err := split.Stratified(labels, 0.3, 7)
	require.NoError(t, err)

	assert.Len(t, s.Holdout, 3)
	assert.Len(t, s.Train, 7)
	classes := map[int64]int{}
	for _, idx := range s.Holdout {
		classes[labels[idx]]++
	}
	// exact quotas 0.6, 1.5 and 0.9 round to one row per class
	assert.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1}, classes)
}

func TestProportions(t *testing.T) {
	shares := split.Proportions([]int64{3, 1, 2, 2})
	require.Len(t, shares, 3)
	assert.Equal(t, int64(1), shares[0].Class)
	assert.Equal(t, 2, shares[1].Count)
	assert.InDelta(t, 0.5, shares[1].Share, 1e-12)
}
