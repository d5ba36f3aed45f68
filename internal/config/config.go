// Package config provides configuration for the damage-grade pipeline.
//
// Configuration comes from built-in defaults, an optional YAML or JSON file
// and DAMAGEGRADE_* environment variables, applied in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	"github.com/paveg/damagegrade/internal/selection"
	"github.com/paveg/damagegrade/internal/validation"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAMAGEGRADE_"

// Default configuration values
const (
	DefaultTrainValues        = "data/train_values.csv"
	DefaultTrainLabels        = "data/train_labels.csv"
	DefaultTestValues         = "data/test_values.csv"
	DefaultSubmissionTemplate = "data/submission_format.csv"
	DefaultModelPath          = "models/forest.dgm"
	DefaultSubmissionPath     = "submission.csv"

	DefaultIDColumn    = "building_id"
	DefaultLabelColumn = "damage_grade"

	DefaultHoldoutFraction = 0.1
	DefaultSplitSeed       = 12

	DefaultSelectionTarget     = 10
	DefaultSelectionStep       = 1
	DefaultSelectionEstimators = 50
)

// Feature selection methods.
const (
	SelectionNone       = "none"
	SelectionImportance = "importance"
	SelectionRecursive  = "rfe"
)

// Paths locates pipeline inputs and outputs.
type Paths struct {
	TrainValues        string `json:"train_values" yaml:"train_values"`
	TrainLabels        string `json:"train_labels" yaml:"train_labels"`
	TestValues         string `json:"test_values" yaml:"test_values"`
	SubmissionTemplate string `json:"submission_template" yaml:"submission_template"`
	Model              string `json:"model" yaml:"model"`
	Submission         string `json:"submission" yaml:"submission"`
	Codebook           string `json:"codebook,omitempty" yaml:"codebook,omitempty"` // empty = built-in codebook
}

// Columns names the key and target columns.
type Columns struct {
	ID    string `json:"id_column" yaml:"id_column"`
	Label string `json:"label_column" yaml:"label_column"`
}

// Split configures the stratified holdout.
type Split struct {
	HoldoutFraction float64 `json:"holdout_fraction" yaml:"holdout_fraction"`
	Seed            uint64  `json:"seed" yaml:"seed"`
}

// Selection configures optional feature selection.
type Selection struct {
	Method     string `json:"method" yaml:"method"`
	Threshold  string `json:"threshold" yaml:"threshold"`
	Target     int    `json:"target" yaml:"target"`
	Step       int    `json:"step" yaml:"step"`
	Estimators int    `json:"estimators" yaml:"estimators"` // forest size while selecting
}

// Config represents the full pipeline configuration
type Config struct {
	Paths     Paths         `json:"paths" yaml:"paths"`
	Columns   Columns       `json:"columns" yaml:"columns"`
	Split     Split         `json:"split" yaml:"split"`
	Forest    forest.Params `json:"forest" yaml:"forest"`
	Selection Selection     `json:"selection" yaml:"selection"`

	Workers           int  `json:"workers" yaml:"workers"` // 0 = NumCPU
	AllowEmptyCells   bool `json:"allow_empty_cells" yaml:"allow_empty_cells"`
	VerboseLogging    bool `json:"verbose_logging" yaml:"verbose_logging"`
	MetricsCollection bool `json:"metrics_collection" yaml:"metrics_collection"`
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		Paths: Paths{
			TrainValues:        DefaultTrainValues,
			TrainLabels:        DefaultTrainLabels,
			TestValues:         DefaultTestValues,
			SubmissionTemplate: DefaultSubmissionTemplate,
			Model:              DefaultModelPath,
			Submission:         DefaultSubmissionPath,
		},
		Columns: Columns{
			ID:    DefaultIDColumn,
			Label: DefaultLabelColumn,
		},
		Split: Split{
			HoldoutFraction: DefaultHoldoutFraction,
			Seed:            DefaultSplitSeed,
		},
		Forest: forest.DefaultParams(),
		Selection: Selection{
			Method:     SelectionNone,
			Threshold:  selection.DefaultThreshold,
			Target:     DefaultSelectionTarget,
			Step:       DefaultSelectionStep,
			Estimators: DefaultSelectionEstimators,
		},
		MetricsCollection: true,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Columns.ID == "" || c.Columns.Label == "" {
		return dgerrors.NewConfigError("Config", "id_column and label_column must be set")
	}
	if c.Columns.ID == c.Columns.Label {
		return dgerrors.NewConfigError("Config", fmt.Sprintf("id_column and label_column are both %q", c.Columns.ID))
	}
	if err := validation.ValidateOpenRange(c.Split.HoldoutFraction, 0, 1, "Config", "split.holdout_fraction"); err != nil {
		return err
	}
	if c.Workers < 0 {
		return dgerrors.NewConfigError("Config", fmt.Sprintf("workers must be non-negative, got %d", c.Workers))
	}
	if err := c.ForestParams().Validate(); err != nil {
		return err
	}

	switch c.Selection.Method {
	case SelectionNone:
	case SelectionImportance:
		if _, err := selection.ParseThreshold(c.Selection.Threshold, []float64{0}); err != nil {
			return err
		}
	case SelectionRecursive:
		if c.Selection.Target < 1 {
			return dgerrors.NewConfigError("Config", fmt.Sprintf("selection.target must be at least 1, got %d", c.Selection.Target))
		}
		if c.Selection.Step < 1 {
			return dgerrors.NewConfigError("Config", fmt.Sprintf("selection.step must be at least 1, got %d", c.Selection.Step))
		}
	default:
		return dgerrors.NewConfigError("Config", fmt.Sprintf("unknown selection.method %q", c.Selection.Method)).
			WithHint("use none, importance or rfe")
	}
	if c.Selection.Method != SelectionNone && c.Selection.Estimators < 1 {
		return dgerrors.NewConfigError("Config",
			fmt.Sprintf("selection.estimators must be at least 1, got %d", c.Selection.Estimators))
	}
	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	d := NewConfig()

	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.Paths.TrainValues, d.Paths.TrainValues)
	fill(&c.Paths.TrainLabels, d.Paths.TrainLabels)
	fill(&c.Paths.TestValues, d.Paths.TestValues)
	fill(&c.Paths.SubmissionTemplate, d.Paths.SubmissionTemplate)
	fill(&c.Paths.Model, d.Paths.Model)
	fill(&c.Paths.Submission, d.Paths.Submission)
	fill(&c.Columns.ID, d.Columns.ID)
	fill(&c.Columns.Label, d.Columns.Label)
	fill(&c.Forest.MaxFeatures, d.Forest.MaxFeatures)
	fill(&c.Forest.Criterion, d.Forest.Criterion)
	fill(&c.Selection.Method, d.Selection.Method)
	fill(&c.Selection.Threshold, d.Selection.Threshold)

	if c.Split.HoldoutFraction == 0 {
		c.Split.HoldoutFraction = d.Split.HoldoutFraction
	}
	if c.Forest.Estimators == 0 {
		c.Forest.Estimators = d.Forest.Estimators
	}
	if c.Forest.MinSamplesSplit == 0 {
		c.Forest.MinSamplesSplit = d.Forest.MinSamplesSplit
	}
	if c.Forest.MinSamplesLeaf == 0 {
		c.Forest.MinSamplesLeaf = d.Forest.MinSamplesLeaf
	}
	if c.Selection.Target == 0 {
		c.Selection.Target = d.Selection.Target
	}
	if c.Selection.Step == 0 {
		c.Selection.Step = d.Selection.Step
	}
	if c.Selection.Estimators == 0 {
		c.Selection.Estimators = d.Selection.Estimators
	}

	// Seeds, max depth and booleans keep their zero values: 0 and false are
	// meaningful settings. Start from NewConfig() to get those defaults.
	return c
}

// ForestParams returns the forest hyperparameters with the worker count applied.
func (c *Config) ForestParams() forest.Params {
	p := c.Forest
	p.Workers = c.Workers
	return p
}

// SelectionParams returns the hyperparameters of forests fitted during
// feature selection.
func (c *Config) SelectionParams() forest.Params {
	p := c.ForestParams()
	p.Estimators = c.Selection.Estimators
	return p
}

// LoadFromFile loads configuration from a .yaml, .yml or .json file. Keys
// absent from the file keep their default values.
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, dgerrors.NewConfigError("LoadConfig", fmt.Sprintf("reading config file %s: %v", filename, err))
	}

	config := NewConfig()
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, dgerrors.NewConfigError("LoadConfig", fmt.Sprintf("unsupported config file format: %s", ext))
	}

	if err != nil {
		return Config{}, dgerrors.NewConfigError("LoadConfig", fmt.Sprintf("parsing config file %s: %v", filename, err))
	}

	return config, nil
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() (Config, error) {
	return ApplyEnv(NewConfig())
}

// ApplyEnv overlays DAMAGEGRADE_* environment variables onto c. A variable
// that does not parse is a config error.
func ApplyEnv(c Config) (Config, error) {
	e := envReader{}

	e.setString("TRAIN_VALUES", &c.Paths.TrainValues)
	e.setString("TRAIN_LABELS", &c.Paths.TrainLabels)
	e.setString("TEST_VALUES", &c.Paths.TestValues)
	e.setString("SUBMISSION_TEMPLATE", &c.Paths.SubmissionTemplate)
	e.setString("MODEL", &c.Paths.Model)
	e.setString("SUBMISSION", &c.Paths.Submission)
	e.setString("CODEBOOK", &c.Paths.Codebook)
	e.setString("ID_COLUMN", &c.Columns.ID)
	e.setString("LABEL_COLUMN", &c.Columns.Label)

	e.setFloat("HOLDOUT_FRACTION", &c.Split.HoldoutFraction)
	e.setUint("SPLIT_SEED", &c.Split.Seed)

	e.setInt("ESTIMATORS", &c.Forest.Estimators)
	e.setInt("MAX_DEPTH", &c.Forest.MaxDepth)
	e.setInt("MIN_SAMPLES_SPLIT", &c.Forest.MinSamplesSplit)
	e.setInt("MIN_SAMPLES_LEAF", &c.Forest.MinSamplesLeaf)
	e.setString("MAX_FEATURES", &c.Forest.MaxFeatures)
	e.setString("CRITERION", &c.Forest.Criterion)
	e.setBool("BOOTSTRAP", &c.Forest.Bootstrap)
	e.setUint("FOREST_SEED", &c.Forest.Seed)

	e.setString("SELECTION_METHOD", &c.Selection.Method)
	e.setString("SELECTION_THRESHOLD", &c.Selection.Threshold)
	e.setInt("SELECTION_TARGET", &c.Selection.Target)
	e.setInt("SELECTION_STEP", &c.Selection.Step)
	e.setInt("SELECTION_ESTIMATORS", &c.Selection.Estimators)

	e.setInt("WORKERS", &c.Workers)
	e.setBool("ALLOW_EMPTY_CELLS", &c.AllowEmptyCells)
	e.setBool("VERBOSE_LOGGING", &c.VerboseLogging)
	e.setBool("METRICS_COLLECTION", &c.MetricsCollection)

	if e.err != nil {
		return Config{}, e.err
	}
	return c, nil
}

// envReader records the first variable that fails to parse.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return os.LookupEnv(EnvPrefix + name)
}

func (e *envReader) fail(name, val string, err error) {
	e.err = dgerrors.NewConfigError("LoadConfig", fmt.Sprintf("%s%s=%q: %v", EnvPrefix, name, val, err))
}

func (e *envReader) setString(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) setInt(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) setUint(name string, dst *uint64) {
	if val, ok := e.lookup(name); ok {
		parsed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) setFloat(name string, dst *float64) {
	if val, ok := e.lookup(name); ok {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = parsed
	}
}

// Load builds the effective configuration: defaults, then the file at path
// when path is non-empty, then environment overrides. The result is
// validated.
func Load(path string) (Config, error) {
	c := NewConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		c = loaded
	}
	c, err := ApplyEnv(c)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ToYAML renders the configuration as YAML.
func (c Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
