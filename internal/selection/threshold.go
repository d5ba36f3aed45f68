package selection

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold keeps features at least as important as the mean.
const DefaultThreshold = "mean"

// ImportanceThreshold keeps every feature whose importance reaches a
// threshold. Threshold is "mean", "median", "<k>*mean", "<k>*median" or a
// number.
type ImportanceThreshold struct {
	Threshold string
	Params    forest.Params

	mask
	cutoff float64
}

// NewImportanceThreshold returns a threshold selector that fits a forest
// with params.
func NewImportanceThreshold(threshold string, params forest.Params) *ImportanceThreshold {
	if threshold == "" {
		threshold = DefaultThreshold
	}
	return &ImportanceThreshold{Threshold: threshold, Params: params}
}

// Fit grows one forest on X and selects from its importances.
func (s *ImportanceThreshold) Fit(ctx context.Context, X *mat.Dense, y []int, names []string) error {
	if err := checkInputs("ImportanceThreshold", X, y, names); err != nil {
		return err
	}
	if _, err := ParseThreshold(s.Threshold, []float64{0}); err != nil {
		return err
	}
	f := forest.New(s.Params)
	if err := f.FitContext(ctx, X, y); err != nil {
		return err
	}
	return s.FitFromImportances(f.FeatureImportances(), names)
}

// FitFromImportances selects from importances of an already fitted model.
func (s *ImportanceThreshold) FitFromImportances(importances []float64, names []string) error {
	if len(importances) != len(names) {
		return dgerrors.NewSchemaError("ImportanceThreshold",
			fmt.Sprintf("%d importances for %d features", len(importances), len(names)))
	}
	cutoff, err := ParseThreshold(s.Threshold, importances)
	if err != nil {
		return err
	}

	support := make([]bool, len(importances))
	kept := 0
	for i, v := range importances {
		if v >= cutoff {
			support[i] = true
			kept++
		}
	}
	if kept == 0 {
		return dgerrors.NewValidationError("ImportanceThreshold", "",
			fmt.Sprintf("no feature reaches threshold %g", cutoff)).
			WithHint("lower the selection threshold")
	}

	s.cutoff = cutoff
	s.mask = mask{
		names:       slices.Clone(names),
		support:     support,
		importances: slices.Clone(importances),
	}
	return nil
}

// Cutoff returns the resolved numeric threshold of the last fit.
func (s *ImportanceThreshold) Cutoff() float64 {
	return s.cutoff
}

// ParseThreshold resolves a threshold expression against importances.
func ParseThreshold(expr string, importances []float64) (float64, error) {
	e := strings.ToLower(strings.ReplaceAll(expr, " ", ""))
	if e == "" {
		e = DefaultThreshold
	}

	scale := 1.0
	k, base, scaled := strings.Cut(e, "*")
	if scaled {
		v, err := parseFinite(k)
		if err != nil {
			return 0, invalidThreshold(expr)
		}
		scale = v
		e = base
	}

	switch e {
	case "mean":
		return scale * stat.Mean(importances, nil), nil
	case "median":
		return scale * median(importances), nil
	}
	if scaled {
		return 0, invalidThreshold(expr)
	}
	v, err := parseFinite(e)
	if err != nil {
		return 0, invalidThreshold(expr)
	}
	return v, nil
}

// parseFinite rejects the NaN and infinity spellings strconv accepts.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite threshold %q", s)
	}
	return v, nil
}

func invalidThreshold(expr string) error {
	return dgerrors.NewConfigError("ParseThreshold", fmt.Sprintf("invalid threshold %q", expr)).
		WithHint(`use "mean", "median", "<k>*mean", "<k>*median" or a number`)
}

// median averages the two middle values of an even-length slice.
// gonum's stat.Quantile picks an order statistic instead, which would shift
// the cutoff onto one feature's importance.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
