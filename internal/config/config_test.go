package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/damagegrade/internal/config"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultValues(t *testing.T) {
	c := config.NewConfig()

	assert.Equal(t, "building_id", c.Columns.ID)
	assert.Equal(t, "damage_grade", c.Columns.Label)
	assert.InDelta(t, 0.1, c.Split.HoldoutFraction, 1e-12)
	assert.Equal(t, uint64(12), c.Split.Seed)

	assert.Equal(t, 150, c.Forest.Estimators)
	assert.Equal(t, 25, c.Forest.MaxDepth)
	assert.Equal(t, 15, c.Forest.MinSamplesSplit)
	assert.Equal(t, 1, c.Forest.MinSamplesLeaf)
	assert.Equal(t, "sqrt", c.Forest.MaxFeatures)
	assert.Equal(t, "gini", c.Forest.Criterion)
	assert.True(t, c.Forest.Bootstrap)
	assert.Equal(t, uint64(12), c.Forest.Seed)

	assert.Equal(t, config.SelectionNone, c.Selection.Method)
	assert.Equal(t, "mean", c.Selection.Threshold)
	assert.Equal(t, 10, c.Selection.Target)

	assert.Equal(t, 0, c.Workers)
	assert.False(t, c.VerboseLogging)
	assert.True(t, c.MetricsCollection)
	require.NoError(t, c.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		expectedError string
	}{
		{"holdout zero", func(c *config.Config) { c.Split.HoldoutFraction = 0 }, "split.holdout_fraction must be in (0, 1), got 0"},
		{"holdout one", func(c *config.Config) { c.Split.HoldoutFraction = 1 }, "split.holdout_fraction must be in (0, 1), got 1"},
		{"same columns", func(c *config.Config) { c.Columns.Label = c.Columns.ID }, `id_column and label_column are both "building_id"`},
		{"no id column", func(c *config.Config) { c.Columns.ID = "" }, "id_column and label_column must be set"},
		{"negative workers", func(c *config.Config) { c.Workers = -2 }, "workers must be non-negative, got -2"},
		{"no trees", func(c *config.Config) { c.Forest.Estimators = 0 }, "estimators must be at least 1, got 0"},
		{"unknown method", func(c *config.Config) { c.Selection.Method = "lasso" }, `unknown selection.method "lasso"`},
		{"bad threshold", func(c *config.Config) {
			c.Selection.Method = config.SelectionImportance
			c.Selection.Threshold = "most"
		}, `invalid threshold "most"`},
		{"rfe target", func(c *config.Config) {
			c.Selection.Method = config.SelectionRecursive
			c.Selection.Target = 0
		}, "selection.target must be at least 1, got 0"},
		{"rfe step", func(c *config.Config) {
			c.Selection.Method = config.SelectionRecursive
			c.Selection.Step = 0
		}, "selection.step must be at least 1, got 0"},
		{"selection estimators", func(c *config.Config) {
			c.Selection.Method = config.SelectionImportance
			c.Selection.Estimators = 0
		}, "selection.estimators must be at least 1, got 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.NewConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
			assert.True(t, errors.Is(err, dgerrors.ErrConfig))
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := config.Config{Forest: config.NewConfig().Forest}
	c.Forest.Estimators = 0
	filled := c.WithDefaults()

	assert.Equal(t, "building_id", filled.Columns.ID)
	assert.Equal(t, 150, filled.Forest.Estimators)
	assert.InDelta(t, 0.1, filled.Split.HoldoutFraction, 1e-12)
	assert.Equal(t, "none", filled.Selection.Method)
	assert.Equal(t, uint64(0), filled.Split.Seed, "zero seed is kept")
}

func TestConfig_ParamsHelpers(t *testing.T) {
	c := config.NewConfig()
	c.Workers = 3
	c.Selection.Estimators = 20

	assert.Equal(t, 3, c.ForestParams().Workers)
	assert.Equal(t, 150, c.ForestParams().Estimators)
	assert.Equal(t, 20, c.SelectionParams().Estimators)
	assert.Equal(t, 3, c.SelectionParams().Workers)
}

func TestConfig_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "damagegrade.yaml")
	content := `paths:
  train_values: in/values.csv
forest:
  estimators: 40
  criterion: entropy
selection:
  method: rfe
  target: 12
verbose_logging: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "in/values.csv", c.Paths.TrainValues)
	assert.Equal(t, config.DefaultTrainLabels, c.Paths.TrainLabels, "unset keys keep defaults")
	assert.Equal(t, 40, c.Forest.Estimators)
	assert.Equal(t, 25, c.Forest.MaxDepth)
	assert.True(t, c.Forest.Bootstrap)
	assert.Equal(t, "entropy", c.Forest.Criterion)
	assert.Equal(t, "rfe", c.Selection.Method)
	assert.Equal(t, 12, c.Selection.Target)
	assert.True(t, c.VerboseLogging)
}

func TestConfig_LoadFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "damagegrade.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"split":{"holdout_fraction":0.2,"seed":7},"workers":2}`), 0o600))

	c, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.Split.HoldoutFraction, 1e-12)
	assert.Equal(t, uint64(7), c.Split.Seed)
	assert.Equal(t, 2, c.Workers)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, dgerrors.ErrConfig))

	toml := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0o600))
	_, err = config.LoadFromFile(toml)
	assert.Contains(t, err.Error(), "unsupported config file format: .toml")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = config.LoadFromFile(bad)
	assert.True(t, errors.Is(err, dgerrors.ErrConfig))
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("DAMAGEGRADE_ESTIMATORS", "75")
	t.Setenv("DAMAGEGRADE_HOLDOUT_FRACTION", "0.25")
	t.Setenv("DAMAGEGRADE_BOOTSTRAP", "false")
	t.Setenv("DAMAGEGRADE_SELECTION_METHOD", "importance")
	t.Setenv("DAMAGEGRADE_MODEL", "out/m.dgm")

	c, err := config.LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 75, c.Forest.Estimators)
	assert.InDelta(t, 0.25, c.Split.HoldoutFraction, 1e-12)
	assert.False(t, c.Forest.Bootstrap)
	assert.Equal(t, "importance", c.Selection.Method)
	assert.Equal(t, "out/m.dgm", c.Paths.Model)
}

func TestConfig_EnvironmentVariableParsing(t *testing.T) {
	t.Setenv("DAMAGEGRADE_WORKERS", "many")

	_, err := config.LoadFromEnv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, dgerrors.ErrConfig))
	assert.Contains(t, err.Error(), "DAMAGEGRADE_WORKERS")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("split:\n  holdout_fraction: 0.3\n"), 0o600))
	t.Setenv("DAMAGEGRADE_SPLIT_SEED", "99")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, c.Split.HoldoutFraction, 1e-12)
	assert.Equal(t, uint64(99), c.Split.Seed)

	t.Setenv("DAMAGEGRADE_HOLDOUT_FRACTION", "2")
	_, err = config.Load(path)
	assert.True(t, errors.Is(err, dgerrors.ErrConfig))
}

func TestConfig_ToYAML(t *testing.T) {
	out, err := config.NewConfig().ToYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "holdout_fraction: 0.1")
	assert.Contains(t, string(out), "max_features: sqrt")
}
