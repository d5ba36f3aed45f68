// Package score computes classification metrics for damage-grade predictions.
//
// Counting is done by golearn's evaluation package over single-attribute
// class grids; this package adapts integer grades to it and guards the
// empty-class cases golearn reports as NaN.
package score

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sjwhitworth/golearn/base"
	"github.com/sjwhitworth/golearn/evaluation"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/validation"
)

// F1Micro pools true positives, false positives and false negatives over
// all classes. For single-label predictions it equals accuracy.
func F1Micro(yTrue, yPred []int) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var tp, fp, fn int
	for i := range cm.Labels {
		tp += cm.TP(i)
		fp += cm.FP(i)
		fn += cm.FN(i)
	}
	return f1(tp, fp, fn), nil
}

// F1Macro is the unweighted mean of per-class F1.
func F1Macro(yTrue, yPred []int) (float64, error) {
	classes, err := PerClass(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, c := range classes {
		sum += c.F1
	}
	return sum / float64(len(classes)), nil
}

func f1(tp, fp, fn int) float64 {
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0
	}
	return 2 * float64(tp) / float64(denom)
}

// ConfusionMatrix counts predictions per true label. Counts[i][j] is the
// number of rows with true label Labels[i] predicted as Labels[j].
type ConfusionMatrix struct {
	Labels []int
	Counts [][]int

	cm evaluation.ConfusionMatrix
}

// NewConfusionMatrix builds the matrix over the union of true and
// predicted labels.
func NewConfusionMatrix(yTrue, yPred []int) (*ConfusionMatrix, error) {
	if err := validation.ValidateLength(len(yTrue), len(yPred), "Score", "predictions"); err != nil {
		return nil, err
	}
	if len(yTrue) == 0 {
		return nil, dgerrors.NewValidationError("Score", "", "no predictions to score")
	}

	ref, err := classGrid(yTrue)
	if err != nil {
		return nil, err
	}
	gen, err := classGrid(yPred)
	if err != nil {
		return nil, err
	}
	cm, err := evaluation.GetConfusionMatrix(ref, gen)
	if err != nil {
		return nil, dgerrors.NewInternalError("Score", err)
	}

	labels := append(slices.Clone(yTrue), yPred...)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	counts := make([][]int, len(labels))
	for i, actual := range labels {
		counts[i] = make([]int, len(labels))
		for j, predicted := range labels {
			counts[i][j] = cm[strconv.Itoa(actual)][strconv.Itoa(predicted)]
		}
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts, cm: cm}, nil
}

// classGrid holds labels as the categorical class attribute of a golearn
// instance grid.
func classGrid(labels []int) (*base.DenseInstances, error) {
	attr := base.NewCategoricalAttribute()
	attr.SetName("damage_grade")

	grid := base.NewDenseInstances()
	spec := grid.AddAttribute(attr)
	if err := grid.AddClassAttribute(attr); err != nil {
		return nil, dgerrors.NewInternalError("Score", err)
	}
	if err := grid.Extend(len(labels)); err != nil {
		return nil, dgerrors.NewInternalError("Score", err)
	}
	for row, l := range labels {
		grid.Set(spec, row, attr.GetSysValFromString(strconv.Itoa(l)))
	}
	return grid, nil
}

func (cm *ConfusionMatrix) class(i int) string {
	return strconv.Itoa(cm.Labels[i])
}

// TP returns true positives for the class at index i.
func (cm *ConfusionMatrix) TP(i int) int {
	return int(evaluation.GetTruePositives(cm.class(i), cm.cm))
}

// FP returns rows predicted as class i that belong to another class.
func (cm *ConfusionMatrix) FP(i int) int {
	return int(evaluation.GetFalsePositives(cm.class(i), cm.cm))
}

// FN returns rows of class i predicted as another class.
func (cm *ConfusionMatrix) FN(i int) int {
	return int(evaluation.GetFalseNegatives(cm.class(i), cm.cm))
}

// Accuracy returns the share of rows predicted correctly.
func (cm *ConfusionMatrix) Accuracy() float64 {
	return evaluation.GetAccuracy(cm.cm)
}

// String renders the matrix with true labels as rows.
func (cm *ConfusionMatrix) String() string {
	var sb strings.Builder
	sb.WriteString("true\\pred")
	for _, l := range cm.Labels {
		sb.WriteString(fmt.Sprintf("\t%d", l))
	}
	for i, row := range cm.Counts {
		sb.WriteString(fmt.Sprintf("\n%d", cm.Labels[i]))
		for _, v := range row {
			sb.WriteString(fmt.Sprintf("\t%d", v))
		}
	}
	return sb.String()
}

// ClassReport holds per-class metrics.
type ClassReport struct {
	Label     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// PerClass returns precision, recall and F1 for every label in ascending
// order. A class that is never predicted, or never present, scores 0 where
// golearn would divide by zero.
func PerClass(yTrue, yPred []int) ([]ClassReport, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	out := make([]ClassReport, len(cm.Labels))
	for i, l := range cm.Labels {
		tp, fp, fn := cm.TP(i), cm.FP(i), cm.FN(i)
		r := ClassReport{Label: l, Support: tp + fn}
		if tp+fp > 0 {
			r.Precision = evaluation.GetPrecision(cm.class(i), cm.cm)
		}
		if tp+fn > 0 {
			r.Recall = evaluation.GetRecall(cm.class(i), cm.cm)
		}
		if tp > 0 {
			r.F1 = evaluation.GetF1Score(cm.class(i), cm.cm)
		}
		out[i] = r
	}
	return out, nil
}

// Format renders a score with four decimals.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
