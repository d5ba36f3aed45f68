package forest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
)

// Split criteria.
const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// Default hyperparameters.
const (
	DefaultEstimators      = 150
	DefaultMaxDepth        = 25
	DefaultMinSamplesSplit = 15
	DefaultMinSamplesLeaf  = 1
	DefaultMaxFeatures     = "sqrt"
	DefaultSeed            = 12
)

// Params configures a Forest.
type Params struct {
	Estimators      int    `json:"estimators" yaml:"estimators"`
	MaxDepth        int    `json:"max_depth" yaml:"max_depth"` // 0 = unlimited
	MinSamplesSplit int    `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     string `json:"max_features" yaml:"max_features"` // sqrt, log2, all, an integer or a fraction
	Criterion       string `json:"criterion" yaml:"criterion"`
	Bootstrap       bool   `json:"bootstrap" yaml:"bootstrap"`
	Seed            uint64 `json:"seed" yaml:"seed"`
	Workers         int    `json:"workers" yaml:"workers"` // 0 = NumCPU
}

// DefaultParams returns the tuned hyperparameters for the survey data.
func DefaultParams() Params {
	return Params{
		Estimators:      DefaultEstimators,
		MaxDepth:        DefaultMaxDepth,
		MinSamplesSplit: DefaultMinSamplesSplit,
		MinSamplesLeaf:  DefaultMinSamplesLeaf,
		MaxFeatures:     DefaultMaxFeatures,
		Criterion:       CriterionGini,
		Bootstrap:       true,
		Seed:            DefaultSeed,
	}
}

// Validate checks hyperparameter ranges.
func (p Params) Validate() error {
	switch {
	case p.Estimators < 1:
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("estimators must be at least 1, got %d", p.Estimators))
	case p.MaxDepth < 0:
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("max_depth must be non-negative, got %d", p.MaxDepth))
	case p.MinSamplesSplit < 2:
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("min_samples_split must be at least 2, got %d", p.MinSamplesSplit))
	case p.MinSamplesLeaf < 1:
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("min_samples_leaf must be at least 1, got %d", p.MinSamplesLeaf))
	case p.Workers < 0:
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("workers must be non-negative, got %d", p.Workers))
	}
	if p.Criterion != CriterionGini && p.Criterion != CriterionEntropy {
		return dgerrors.NewConfigError("ForestParams", fmt.Sprintf("unknown criterion %q", p.Criterion)).
			WithHint("use gini or entropy")
	}
	if _, err := p.featuresPerSplit(1); err != nil {
		return err
	}
	return nil
}

// featuresPerSplit resolves MaxFeatures against the feature count.
func (p Params) featuresPerSplit(numFeatures int) (int, error) {
	var k int
	switch setting := strings.ToLower(strings.TrimSpace(p.MaxFeatures)); setting {
	case "", "all":
		k = numFeatures
	case "sqrt":
		k = int(math.Sqrt(float64(numFeatures)))
	case "log2":
		k = int(math.Log2(float64(numFeatures)))
	default:
		if n, err := strconv.Atoi(setting); err == nil {
			if n < 1 {
				return 0, dgerrors.NewConfigError("ForestParams", fmt.Sprintf("max_features must be positive, got %d", n))
			}
			k = n
			break
		}
		frac, err := strconv.ParseFloat(setting, 64)
		if err != nil || frac <= 0 || frac > 1 {
			return 0, dgerrors.NewConfigError("ForestParams", fmt.Sprintf("invalid max_features %q", p.MaxFeatures)).
				WithHint("use sqrt, log2, all, an integer or a fraction in (0, 1]")
		}
		k = int(frac * float64(numFeatures))
	}
	return max(1, min(k, numFeatures)), nil
}
