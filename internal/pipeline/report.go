package pipeline

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/paveg/damagegrade/internal/monitoring"
	"github.com/paveg/damagegrade/internal/score"
	"github.com/paveg/damagegrade/internal/split"
)

// FeatureImportance is one feature's share of the model's impurity decrease.
type FeatureImportance struct {
	Name       string
	Importance float64
}

// rankImportances pairs names with importances, most important first. Equal
// importances keep column order.
func rankImportances(names []string, importances []float64) []FeatureImportance {
	out := make([]FeatureImportance, len(names))
	for i, name := range names {
		out[i] = FeatureImportance{Name: name, Importance: importances[i]}
	}
	slices.SortStableFunc(out, func(a, b FeatureImportance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	return out
}

// TrainingReport summarises a training run.
type TrainingReport struct {
	Rows        int
	TrainRows   int
	HoldoutRows int
	ClassShares []split.ClassShare
	Selection   *Selection
	// Importances of the final model's features, most important first.
	Importances []FeatureImportance
	Evaluation  *Evaluation
	ModelPath   string
	Metrics     []monitoring.StageMetrics
}

// String renders the report for a terminal.
func (r *TrainingReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "rows: %d (train %d, holdout %d)\n", r.Rows, r.TrainRows, r.HoldoutRows)
	for _, s := range r.ClassShares {
		fmt.Fprintf(&sb, "  grade %d: %d (%.2f%%)\n", s.Class, s.Count, 100*s.Share)
	}
	fmt.Fprintf(&sb, "selection: %s, %d of %d features\n",
		r.Selection.Method, len(r.Selection.Selected()), len(r.Selection.Candidates))
	fmt.Fprintf(&sb, "holdout F1 (micro): %s\n", score.Format(r.Evaluation.F1Micro))
	fmt.Fprintf(&sb, "holdout F1 (macro): %s\n", score.Format(r.Evaluation.F1Macro))
	for _, c := range r.Evaluation.PerClass {
		fmt.Fprintf(&sb, "  grade %d: precision %s recall %s f1 %s support %d\n",
			c.Label, score.Format(c.Precision), score.Format(c.Recall), score.Format(c.F1), c.Support)
	}
	sb.WriteString(r.Evaluation.Confusion.String())
	sb.WriteString("\ntop features:\n")
	for i, fi := range r.Importances {
		if i == 10 {
			break
		}
		fmt.Fprintf(&sb, "  %-40s %s\n", fi.Name, score.Format(fi.Importance))
	}
	fmt.Fprintf(&sb, "model: %s", r.ModelPath)
	return sb.String()
}

// Ranked pairs candidates with selector importances, most important first.
// It is empty when no selector ran.
func (s *Selection) Ranked() []FeatureImportance {
	if s.Importances == nil {
		return nil
	}
	return rankImportances(s.Candidates, s.Importances)
}

// String renders the selection as one line per candidate.
func (s *Selection) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "method: %s, kept %d of %d", s.Method, len(s.Selected()), len(s.Candidates))
	rank := make(map[string]int, len(s.Candidates))
	kept := make(map[string]bool, len(s.Candidates))
	for i, name := range s.Candidates {
		kept[name] = s.Support[i]
		if s.Ranking != nil {
			rank[name] = s.Ranking[i]
		}
	}
	for _, fi := range s.Ranked() {
		mark := " "
		if kept[fi.Name] {
			mark = "*"
		}
		fmt.Fprintf(&sb, "\n%s %-40s %s", mark, fi.Name, score.Format(fi.Importance))
		if s.Ranking != nil {
			fmt.Fprintf(&sb, "  rank %d", rank[fi.Name])
		}
	}
	return sb.String()
}

// PredictionReport summarises a prediction run.
type PredictionReport struct {
	Rows           int
	SubmissionPath string
	ModelHoldoutF1 float64
	Features       []string
	// Distribution is the share of each predicted grade.
	Distribution []split.ClassShare
	Metrics      []monitoring.StageMetrics
}

// String renders the report for a terminal.
func (r *PredictionReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "predicted %d buildings with %d features (model holdout F1 %s)\n",
		r.Rows, len(r.Features), score.Format(r.ModelHoldoutF1))
	for _, s := range r.Distribution {
		fmt.Fprintf(&sb, "  grade %d: %d (%.2f%%)\n", s.Class, s.Count, 100*s.Share)
	}
	fmt.Fprintf(&sb, "submission: %s", r.SubmissionPath)
	return sb.String()
}
