package testutil_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureColumns(t *testing.T) {
	cols := testutil.FeatureColumns()
	assert.Len(t, cols, 38)
	assert.Equal(t, "geo_level_1_id", cols[0])
	assert.Equal(t, "plan_configuration", cols[13])
	assert.Equal(t, "legal_ownership_status", cols[25])
	assert.Equal(t, "has_secondary_use_other", cols[37])

	seen := make(map[string]bool)
	for _, c := range cols {
		assert.False(t, seen[c], "duplicate column %s", c)
		seen[c] = true
	}
	for _, c := range testutil.CategoricalColumns() {
		assert.True(t, seen[c], "categorical %s missing from features", c)
	}
}

func TestGenerate(t *testing.T) {
	s := testutil.Generate(2000, 7, true)

	assert.Equal(t, testutil.WorkedIDs, s.IDs[:5])
	assert.Equal(t, []int64{3, 2, 3, 2, 3}, s.Labels[:5])
	assert.Equal(t, "o", s.Values["land_surface_condition"][1])

	ids := make(map[int64]bool)
	for _, id := range s.IDs {
		assert.False(t, ids[id], "duplicate id %d", id)
		ids[id] = true
	}

	counts := map[int64]int{}
	for _, l := range s.Labels[5:] {
		counts[l]++
	}
	n := float64(len(s.Labels) - 5)
	for i, want := range testutil.ClassShares {
		assert.InDelta(t, want, float64(counts[int64(i+1)])/n, 0.01)
	}

	t.Run("deterministic", func(t *testing.T) {
		again := testutil.Generate(2000, 7, true)
		assert.Equal(t, s.IDs, again.IDs)
		assert.Equal(t, s.Labels, again.Labels)
		assert.Equal(t, s.Values["foundation_type"], again.Values["foundation_type"])
	})
}

func TestFrames(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s := testutil.Generate(50, 1, true)
	values := s.ValuesFrame(mem)
	defer values.Release()
	labels := s.LabelsFrame(mem)
	defer labels.Release()

	testutil.AssertDataFrameHasColumns(t, values, append([]string{testutil.IDColumn}, testutil.FeatureColumns()...))
	testutil.AssertDataFrameHasColumns(t, labels, []string{testutil.IDColumn, testutil.LabelColumn})
	assert.Equal(t, 50, values.Len())

	typ, ok := values.DataType("roof_type")
	require.True(t, ok)
	assert.Equal(t, arrow.STRING, typ)
	typ, ok = values.DataType("age")
	require.True(t, ok)
	assert.Equal(t, arrow.INT64, typ)
}

func TestWriteSurvey(t *testing.T) {
	files := testutil.WriteSurvey(t, 40, 10, 3, ".csv")

	lines := testutil.ReadLines(t, files.TrainLabels)
	require.Len(t, lines, 41)
	assert.Equal(t, "building_id,damage_grade", lines[0])
	assert.Equal(t, "802906,3", lines[1])

	template := testutil.ReadLines(t, files.SubmissionTemplate)
	assert.Len(t, template, 11)
	test := testutil.ReadLines(t, files.TestValues)
	assert.Len(t, test, 11)
}
