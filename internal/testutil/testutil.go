// Package testutil provides synthetic building-survey tables for tests.
//
// The generator reproduces the shape of the survey data: the id column, 38
// feature columns with single-letter categorical codes, binary flags and
// integer measures, and a damage grade label with the survey's class
// imbalance (roughly 9.6% grade 1, 56.9% grade 2, 33.5% grade 3). The first
// five training rows are fixed buildings from the survey so end-to-end
// tests always see them.
package testutil

import (
	"cmp"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgio "github.com/paveg/damagegrade/internal/io"
	"github.com/paveg/damagegrade/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Column names of the survey tables.
const (
	IDColumn    = "building_id"
	LabelColumn = "damage_grade"
)

var numericColumns = []string{
	"geo_level_1_id", "geo_level_2_id", "geo_level_3_id",
	"count_floors_pre_eq", "age", "area_percentage", "height_percentage",
}

var superstructureColumns = []string{
	"has_superstructure_adobe_mud", "has_superstructure_mud_mortar_stone",
	"has_superstructure_stone_flag", "has_superstructure_cement_mortar_stone",
	"has_superstructure_mud_mortar_brick", "has_superstructure_cement_mortar_brick",
	"has_superstructure_timber", "has_superstructure_bamboo",
	"has_superstructure_rc_non_engineered", "has_superstructure_rc_engineered",
	"has_superstructure_other",
}

var secondaryUseColumns = []string{
	"has_secondary_use", "has_secondary_use_agriculture", "has_secondary_use_hotel",
	"has_secondary_use_rental", "has_secondary_use_institution", "has_secondary_use_school",
	"has_secondary_use_industry", "has_secondary_use_health_post",
	"has_secondary_use_gov_office", "has_secondary_use_use_police", "has_secondary_use_other",
}

// categorical alphabets with rough survey frequencies
var categoricals = []struct {
	name    string
	letters string
	weights []float64
}{
	{"land_surface_condition", "not", []float64{0.14, 0.03, 0.83}},
	{"foundation_type", "hiruw", []float64{0.01, 0.04, 0.84, 0.05, 0.06}},
	{"roof_type", "nqx", []float64{0.70, 0.24, 0.06}},
	{"ground_floor_type", "fmvxz", []float64{0.80, 0.01, 0.09, 0.10, 0.00}},
	{"other_floor_type", "jqsx", []float64{0.15, 0.63, 0.05, 0.17}},
	{"position", "jost", []float64{0.05, 0.01, 0.78, 0.16}},
	{"plan_configuration", "acdfmnoqsu", []float64{0.001, 0.001, 0.96, 0.001, 0.001, 0.001, 0.001, 0.022, 0.001, 0.011}},
	{"legal_ownership_status", "arvw", []float64{0.02, 0.01, 0.96, 0.01}},
}

// FeatureColumns returns the 38 feature column names in survey order.
func FeatureColumns() []string {
	cols := slices.Clone(numericColumns)
	for _, c := range categoricals[:7] {
		cols = append(cols, c.name)
	}
	cols = append(cols, superstructureColumns...)
	cols = append(cols, categoricals[7].name, "count_families")
	return append(cols, secondaryUseColumns...)
}

// CategoricalColumns returns the single-letter code columns.
func CategoricalColumns() []string {
	out := make([]string, len(categoricals))
	for i, c := range categoricals {
		out[i] = c.name
	}
	return out
}

// WorkedIDs are the fixed buildings leading every generated training table.
var WorkedIDs = []int64{802906, 28830, 94947, 590882, 201944}

// workedRows holds the fixed buildings' features in FeatureColumns order and
// their grades.
var workedRows = []struct {
	values []string
	grade  int64
}{
	{[]string{"6", "487", "12198", "2", "30", "6", "5", "t", "r", "n", "f", "q", "t", "d",
		"1", "1", "0", "0", "0", "0", "0", "0", "0", "0", "0", "v", "1",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, 3},
	{[]string{"8", "900", "2812", "2", "10", "8", "7", "o", "r", "n", "x", "q", "s", "d",
		"0", "1", "0", "0", "0", "0", "0", "0", "0", "0", "0", "v", "1",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, 2},
	{[]string{"21", "363", "8973", "2", "10", "5", "5", "t", "r", "n", "f", "x", "t", "d",
		"0", "1", "0", "0", "0", "0", "0", "0", "0", "0", "0", "v", "1",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, 3},
	{[]string{"22", "418", "10694", "2", "10", "6", "5", "t", "r", "n", "f", "x", "s", "d",
		"0", "1", "0", "0", "0", "0", "1", "1", "0", "0", "0", "v", "1",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, 2},
	{[]string{"11", "131", "1488", "3", "30", "8", "9", "t", "r", "n", "f", "x", "s", "d",
		"1", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "v", "1",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, 3},
}

// ClassShares are the survey's label proportions for grades 1, 2 and 3.
var ClassShares = [3]float64{0.0964, 0.5689, 0.3347}

// Survey is a generated set of tables in raw (unencoded) form.
type Survey struct {
	IDs    []int64
	Values map[string][]string
	Labels []int64
}

// Generate builds n buildings from seed. When withWorked is set the first
// five rows are the fixed survey buildings.
func Generate(n int, seed uint64, withWorked bool) *Survey {
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	features := FeatureColumns()
	s := &Survey{
		IDs:    make([]int64, n),
		Values: make(map[string][]string, len(features)),
		Labels: make([]int64, n),
	}
	for _, name := range features {
		s.Values[name] = make([]string, n)
	}

	used := make(map[int64]bool, n)
	for _, id := range WorkedIDs {
		used[id] = true
	}

	scores := make([]float64, n)
	fixed := 0
	if withWorked {
		fixed = min(n, len(workedRows))
	}
	for i := 0; i < n; i++ {
		if i < fixed {
			s.IDs[i] = WorkedIDs[i]
			for j, name := range features {
				s.Values[name][i] = workedRows[i].values[j]
			}
			s.Labels[i] = workedRows[i].grade
			continue
		}

		id := int64(rng.IntN(1_000_000))
		for used[id] {
			id = int64(rng.IntN(1_000_000))
		}
		used[id] = true
		s.IDs[i] = id
		scores[i] = s.fillRow(rng, i)
	}

	assignGrades(s.Labels[fixed:], scores[fixed:])
	return s
}

// fillRow draws one building and returns its latent vulnerability score.
func (s *Survey) fillRow(rng *rand.Rand, i int) float64 {
	set := func(name string, v int) { s.Values[name][i] = strconv.Itoa(v) }

	geo1 := rng.IntN(31)
	floors := 1 + rng.IntN(5)
	age := 5 * rng.IntN(21)
	set("geo_level_1_id", geo1)
	set("geo_level_2_id", rng.IntN(1428))
	set("geo_level_3_id", rng.IntN(12568))
	set("count_floors_pre_eq", floors)
	set("age", age)
	set("area_percentage", 1+rng.IntN(30))
	set("height_percentage", 2+rng.IntN(14))
	set("count_families", rng.IntN(4))

	letters := make(map[string]string, len(categoricals))
	for _, c := range categoricals {
		letter := string(c.letters[pick(rng, c.weights)])
		letters[c.name] = letter
		s.Values[c.name][i] = letter
	}

	flags := make(map[string]bool)
	for _, name := range superstructureColumns {
		on := rng.Float64() < 0.15
		if name == "has_superstructure_mud_mortar_stone" {
			on = rng.Float64() < 0.76
		}
		flags[name] = on
		set(name, boolInt(on))
	}
	for _, name := range secondaryUseColumns {
		set(name, boolInt(rng.Float64() < 0.05))
	}

	score := 0.02*float64(age) + 0.3*float64(floors) + 0.04*float64(geo1%10)
	if letters["foundation_type"] == "r" {
		score += 1.5
	}
	if letters["foundation_type"] == "i" || letters["foundation_type"] == "u" || letters["foundation_type"] == "w" {
		score -= 1.5
	}
	if letters["roof_type"] == "x" {
		score -= 1.0
	}
	if flags["has_superstructure_mud_mortar_stone"] {
		score += 1.0
	}
	if flags["has_superstructure_rc_engineered"] {
		score -= 1.2
	}
	if flags["has_superstructure_cement_mortar_brick"] {
		score -= 0.8
	}
	return score + rng.NormFloat64()*0.7
}

// assignGrades labels the lowest scores grade 1 and the highest grade 3 in
// ClassShares proportions.
func assignGrades(labels []int64, scores []float64) {
	order := make([]int, len(labels))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[a], scores[b])
	})
	n := float64(len(labels))
	cut1 := int(ClassShares[0] * n)
	cut2 := cut1 + int(ClassShares[1]*n)
	for rank, i := range order {
		switch {
		case rank < cut1:
			labels[i] = 1
		case rank < cut2:
			labels[i] = 2
		default:
			labels[i] = 3
		}
	}
}

func pick(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ValuesFrame returns the id and feature columns with categoricals as
// strings and everything else as int64.
func (s *Survey) ValuesFrame(mem memory.Allocator) *dataframe.DataFrame {
	cols := []dataframe.ISeries{series.New(IDColumn, slices.Clone(s.IDs), mem)}
	isCategorical := make(map[string]bool)
	for _, name := range CategoricalColumns() {
		isCategorical[name] = true
	}
	for _, name := range FeatureColumns() {
		raw := s.Values[name]
		if isCategorical[name] {
			cols = append(cols, series.New(name, slices.Clone(raw), mem))
			continue
		}
		ints := make([]int64, len(raw))
		for i, v := range raw {
			ints[i], _ = strconv.ParseInt(v, 10, 64)
		}
		cols = append(cols, series.New(name, ints, mem))
	}
	return dataframe.New(cols...)
}

// LabelsFrame returns the id and damage grade columns.
func (s *Survey) LabelsFrame(mem memory.Allocator) *dataframe.DataFrame {
	return dataframe.New(
		series.New(IDColumn, slices.Clone(s.IDs), mem),
		series.New(LabelColumn, slices.Clone(s.Labels), mem),
	)
}

// Files are the paths written by WriteSurvey.
type Files struct {
	Dir                string
	TrainValues        string
	TrainLabels        string
	TestValues         string
	SubmissionTemplate string
}

// WriteSurvey writes training tables of trainRows buildings, a test table of
// testRows buildings and a submission template listing the test ids in
// reverse order. ext picks the table format (".csv" or ".parquet"); the
// template is always CSV.
func WriteSurvey(tb testing.TB, trainRows, testRows int, seed uint64, ext string) Files {
	tb.Helper()
	dir := tb.TempDir()
	mem := memory.NewGoAllocator()
	files := Files{
		Dir:                dir,
		TrainValues:        filepath.Join(dir, "train_values"+ext),
		TrainLabels:        filepath.Join(dir, "train_labels"+ext),
		TestValues:         filepath.Join(dir, "test_values"+ext),
		SubmissionTemplate: filepath.Join(dir, "submission_format.csv"),
	}

	train := Generate(trainRows, seed, true)
	test := Generate(testRows, seed+1, false)

	write := func(path string, df *dataframe.DataFrame) {
		defer df.Release()
		require.NoError(tb, dgio.WriteFile(path, df))
	}
	write(files.TrainValues, train.ValuesFrame(mem))
	write(files.TrainLabels, train.LabelsFrame(mem))
	write(files.TestValues, test.ValuesFrame(mem))

	ids := slices.Clone(test.IDs)
	slices.Reverse(ids)
	template := make([]int64, len(ids))
	for i := range template {
		template[i] = 1
	}
	write(files.SubmissionTemplate, dataframe.New(
		series.New(IDColumn, ids, mem),
		series.New(LabelColumn, template, mem),
	))
	return files
}

// ReadLines returns the lines of a text file without the trailing newline.
func ReadLines(tb testing.TB, path string) []string {
	tb.Helper()
	data, err := os.ReadFile(path)
	require.NoError(tb, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// AssertDataFrameHasColumns checks that a DataFrame has the expected columns in order.
func AssertDataFrameHasColumns(t *testing.T, df *dataframe.DataFrame, expectedColumns []string) {
	t.Helper()
	assert.Equal(t, expectedColumns, df.Columns())
}
