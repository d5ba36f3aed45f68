package dataframe_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildingFrame(mem memory.Allocator) *dataframe.DataFrame {
	return dataframe.New(
		series.New("building_id", []int64{802906, 28830, 94947}, mem),
		series.New("age", []int64{30, 10, 10}, mem),
		series.New("roof_type", []string{"n", "n", "q"}, mem),
		series.New("share", []float64{0.5, 0.25, 1}, mem),
	)
}

func TestDataFrame_Basics(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := buildingFrame(mem)
	defer df.Release()

	assert.Equal(t, 3, df.Len())
	assert.Equal(t, 4, df.Width())
	assert.Equal(t, []string{"building_id", "age", "roof_type", "share"}, df.Columns())
	assert.True(t, df.HasColumn("roof_type"))
	assert.False(t, df.HasColumn("damage_grade"))

	typ, ok := df.DataType("roof_type")
	require.True(t, ok)
	assert.Equal(t, arrow.STRING, typ)
	assert.Contains(t, df.String(), "DataFrame[3x4]")
}

func TestDataFrame_SelectDrop(t *testing.T) {
	df := buildingFrame(nil)
	defer df.Release()

	sel := df.Select("share", "building_id", "missing")
	assert.Equal(t, []string{"share", "building_id"}, sel.Columns())

	dropped := df.Drop("building_id")
	assert.Equal(t, []string{"age", "roof_type", "share"}, dropped.Columns())

	_, err := df.SelectStrict("Predict", "age", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, dgerrors.ErrSchema)
}

func TestDataFrame_WithColumn(t *testing.T) {
	df := buildingFrame(nil)
	defer df.Release()

	require.NoError(t, df.WithColumn(series.New("roof_type", []int64{0, 0, 1}, nil)))
	assert.Equal(t, []string{"building_id", "age", "roof_type", "share"}, df.Columns())
	typ, _ := df.DataType("roof_type")
	assert.Equal(t, arrow.INT64, typ)

	require.NoError(t, df.WithColumn(series.New("extra", []bool{true, false, true}, nil)))
	assert.Equal(t, "extra", df.Columns()[4])

	err := df.WithColumn(series.New("short", []int64{1}, nil))
	assert.ErrorIs(t, err, dgerrors.ErrSchema)
}

func TestDataFrame_Int64Values(t *testing.T) {
	df := buildingFrame(nil)
	defer df.Release()

	_, err := df.Int64Values("Load", "share")
	assert.ErrorIs(t, err, dgerrors.ErrSchema)

	_, err = df.Int64Values("Load", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available columns")
}

func TestDataFrame_Matrix(t *testing.T) {
	df := buildingFrame(nil)
	defer df.Release()

	m, err := df.Matrix("age", "share")
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.InDelta(t, 30.0, m.At(0, 0), 0)
	assert.InDelta(t, 0.25, m.At(1, 1), 0)

	_, err = df.Matrix("roof_type")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode it first")

	empty := dataframe.New(series.New("age", []int64{}, nil))
	defer empty.Release()
	_, err = empty.Matrix("age")
	assert.Error(t, err)
}
