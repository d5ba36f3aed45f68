package damagegrade_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/damagegrade"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func surveyConfig(t *testing.T) damagegrade.Config {
	t.Helper()
	files := testutil.WriteSurvey(t, 150, 25, 21, ".csv")
	cfg := damagegrade.DefaultConfig()
	cfg.Paths.TrainValues = files.TrainValues
	cfg.Paths.TrainLabels = files.TrainLabels
	cfg.Paths.TestValues = files.TestValues
	cfg.Paths.SubmissionTemplate = files.SubmissionTemplate
	cfg.Paths.Model = filepath.Join(files.Dir, "forest.dgm")
	cfg.Paths.Submission = filepath.Join(files.Dir, "submission.csv")
	cfg.Forest.Estimators = 8
	cfg.Forest.MaxDepth = 8
	cfg.Selection.Estimators = 4
	return cfg
}

func TestRun(t *testing.T) {
	cfg := surveyConfig(t)

	report, pred, err := damagegrade.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 150, report.Rows)
	assert.Equal(t, 25, pred.Rows)
	assert.FileExists(t, cfg.Paths.Submission)
}

func TestTrainThenPredict(t *testing.T) {
	cfg := surveyConfig(t)

	_, err := damagegrade.Train(context.Background(), cfg, damagegrade.WithCodebook(damagegrade.DefaultCodebook()))
	require.NoError(t, err)

	pred, err := damagegrade.Predict(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, pred.Features, 38)
}

func TestCodebookFromConfig(t *testing.T) {
	cfg := surveyConfig(t)
	path := filepath.Join(t.TempDir(), "codebook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "2019.1"
columns:
  - name: land_surface_condition
    alphabet: ["n", "o", "t"]
`), 0o600))
	cfg.Paths.Codebook = path

	_, err := damagegrade.Train(context.Background(), cfg)
	require.Error(t, err)
	// foundation_type and the other categoricals stay letters, which cannot
	// form a numeric matrix.
	assert.ErrorIs(t, err, dgerrors.ErrSchema)
}

func TestSelectFeatures(t *testing.T) {
	cfg := surveyConfig(t)
	cfg.Selection.Method = "importance"
	cfg.Selection.Threshold = "1.25*median"

	sel, err := damagegrade.SelectFeatures(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, sel.Selected())
}

func TestInvalidConfig(t *testing.T) {
	cfg := damagegrade.DefaultConfig()
	cfg.Split.HoldoutFraction = 0

	_, err := damagegrade.Train(context.Background(), cfg)
	assert.ErrorIs(t, err, dgerrors.ErrConfig)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := damagegrade.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "building_id", cfg.Columns.ID)
}
