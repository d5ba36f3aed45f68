// Package pipeline runs the damage-grade workflow as explicit stages:
// loading, encoding, splitting, feature selection, training, evaluation,
// saving and prediction. Each stage is timed by a metrics collector and
// logged; the context is checked before every stage starts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/paveg/damagegrade/internal/artifact"
	"github.com/paveg/damagegrade/internal/codebook"
	"github.com/paveg/damagegrade/internal/config"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	dgio "github.com/paveg/damagegrade/internal/io"
	dgmemory "github.com/paveg/damagegrade/internal/memory"
	"github.com/paveg/damagegrade/internal/monitoring"
	"github.com/paveg/damagegrade/internal/score"
	"github.com/paveg/damagegrade/internal/selection"
	"github.com/paveg/damagegrade/internal/split"
	"github.com/paveg/damagegrade/internal/submission"
	"github.com/paveg/damagegrade/internal/validation"
	"github.com/paveg/damagegrade/internal/version"
	"gonum.org/v1/gonum/mat"
)

// Stage names as recorded in metrics and logs.
const (
	StageLoadTraining    = "load_training"
	StageEncode          = "encode"
	StageSplit           = "split"
	StageSelectFeatures  = "select_features"
	StageTrain           = "train"
	StageEvaluate        = "evaluate"
	StageSave            = "save"
	StageLoadModel       = "load_model"
	StageLoadTest        = "load_test"
	StagePredict         = "predict"
	StageWriteSubmission = "write_submission"
)

// Pipeline holds the configuration, codebook and logger shared by all
// stages. Tables it loads are owned by the pipeline until Close.
type Pipeline struct {
	cfg     config.Config
	cb      *codebook.Codebook
	logger  *slog.Logger
	metrics *monitoring.MetricsCollector
	tracker *dgmemory.Tracker
}

// New returns a pipeline for cfg. A nil codebook means codebook.Default and
// a nil logger discards output.
func New(cfg config.Config, cb *codebook.Codebook, logger *slog.Logger) *Pipeline {
	if cb == nil {
		cb = codebook.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		cfg:     cfg,
		cb:      cb,
		logger:  logger,
		metrics: monitoring.NewMetricsCollector(cfg.MetricsCollection),
		tracker: dgmemory.NewTracker(nil),
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Codebook returns the codebook used for encoding.
func (p *Pipeline) Codebook() *codebook.Codebook { return p.cb }

// Metrics returns the stage metrics collected so far.
func (p *Pipeline) Metrics() *monitoring.MetricsCollector { return p.metrics }

// Close releases every table the pipeline loaded.
func (p *Pipeline) Close() {
	if n := p.tracker.TrackedCount(); n > 0 {
		p.logger.Debug("releasing tables", "count", n, "live_bytes", p.tracker.LiveBytes())
	}
	p.tracker.ReleaseAll()
}

// stage runs fn as a named, timed and logged step.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() (int, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	p.logger.DebugContext(ctx, "stage started", "stage", name)

	start := time.Now()
	var rows int
	err := p.metrics.RecordStage(name, func() (int, error) {
		var err error
		rows, err = fn()
		return rows, err
	})
	elapsed := time.Since(start)

	if err != nil {
		p.logger.ErrorContext(ctx, "stage failed", "stage", name, "duration", elapsed, "error", err)
		return err
	}
	p.logger.InfoContext(ctx, "stage finished",
		"stage", name, "duration", elapsed, "rows", rows, "arrow_bytes", p.tracker.LiveBytes())
	return nil
}

func (p *Pipeline) csvOptions() dgio.CSVOptions {
	opts := dgio.DefaultCSVOptions()
	opts.StringColumns = p.cb.Names()
	opts.AllowEmpty = p.cfg.AllowEmptyCells
	return opts
}

func (p *Pipeline) readTable(path string) (*dataframe.DataFrame, error) {
	return dgio.ReadFile(path, p.csvOptions(), p.tracker.Allocator())
}

// Dataset is a training table with labels aligned to its rows.
type Dataset struct {
	IDs []int64
	// Features are the feature column names in file order.
	Features []string
	// Values holds the id and feature columns. Categorical columns are
	// letters until Encode replaces them with codes.
	Values *dataframe.DataFrame
	Labels []int64
}

// LoadTraining reads the training values and labels and joins the labels
// onto the value rows by id.
func (p *Pipeline) LoadTraining(ctx context.Context) (*Dataset, error) {
	var ds *Dataset
	err := p.stage(ctx, StageLoadTraining, func() (int, error) {
		values, err := p.readTable(p.cfg.Paths.TrainValues)
		if err != nil {
			return 0, err
		}
		p.tracker.Track("train_values", values)

		labels, err := p.readTable(p.cfg.Paths.TrainLabels)
		if err != nil {
			return 0, err
		}
		defer labels.Release()

		ids, err := uniqueIDs(values, p.cfg.Columns.ID, "LoadTraining")
		if err != nil {
			return 0, err
		}
		labelIDs, err := labels.Int64Values("LoadTraining", p.cfg.Columns.ID)
		if err != nil {
			return 0, err
		}
		grades, err := labels.Int64Values("LoadTraining", p.cfg.Columns.Label)
		if err != nil {
			return 0, err
		}
		aligned, err := alignLabels(ids, labelIDs, grades, p.cfg.Columns.ID)
		if err != nil {
			return 0, err
		}

		ds = &Dataset{
			IDs:      ids,
			Features: values.Drop(p.cfg.Columns.ID, p.cfg.Columns.Label).Columns(),
			Values:   values,
			Labels:   aligned,
		}
		if len(ds.Features) == 0 {
			return 0, dgerrors.NewSchemaError("LoadTraining", "training values have no feature columns")
		}
		return len(ids), nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// uniqueIDs returns the id column of df, rejecting repeated ids.
func uniqueIDs(df *dataframe.DataFrame, column, op string) ([]int64, error) {
	ids, err := df.Int64Values(op, column)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, dgerrors.NewValidationError(op, column, fmt.Sprintf("duplicate id %d at row %d", id, i))
		}
		seen[id] = struct{}{}
	}
	return ids, nil
}

// alignLabels orders grades to match ids. Every id needs exactly one label
// and the labels table may not name unknown ids.
func alignLabels(ids, labelIDs, grades []int64, column string) ([]int64, error) {
	byID := make(map[int64]int64, len(labelIDs))
	for i, id := range labelIDs {
		if _, dup := byID[id]; dup {
			return nil, dgerrors.NewValidationError("LoadTraining", column,
				fmt.Sprintf("duplicate id %d in labels", id))
		}
		byID[id] = grades[i]
	}

	out := make([]int64, len(ids))
	for i, id := range ids {
		grade, ok := byID[id]
		if !ok {
			return nil, dgerrors.NewSchemaError("LoadTraining",
				fmt.Sprintf("building %d has no label", id))
		}
		out[i] = grade
	}
	if len(byID) != len(ids) {
		return nil, dgerrors.NewSchemaError("LoadTraining",
			fmt.Sprintf("%d labels for %d buildings", len(byID), len(ids)))
	}
	return out, nil
}

// Encode replaces the categorical columns of ds with integer codes.
func (p *Pipeline) Encode(ctx context.Context, ds *Dataset) error {
	return p.stage(ctx, StageEncode, func() (int, error) {
		if _, err := p.cb.EncodeWith(ds.Values, p.tracker.Allocator()); err != nil {
			return 0, err
		}
		return ds.Values.Len(), nil
	})
}

// Partition is the encoded training data divided into training and holdout
// matrices.
type Partition struct {
	Features []string
	Split    split.Split
	Shares   []split.ClassShare

	Train    *mat.Dense
	TrainY   []int
	Holdout  *mat.Dense
	HoldoutY []int
}

// Split divides ds with a stratified holdout and copies both parts into
// feature matrices.
func (p *Pipeline) Split(ctx context.Context, ds *Dataset) (*Partition, error) {
	var part *Partition
	err := p.stage(ctx, StageSplit, func() (int, error) {
		sp, err := split.Stratified(ds.Labels, p.cfg.Split.HoldoutFraction, p.cfg.Split.Seed)
		if err != nil {
			return 0, err
		}
		X, err := ds.Values.Matrix(ds.Features...)
		if err != nil {
			return 0, err
		}

		y := make([]int, len(ds.Labels))
		for i, l := range ds.Labels {
			y[i] = int(l)
		}
		part = &Partition{
			Features: slices.Clone(ds.Features),
			Split:    sp,
			Shares:   split.Proportions(ds.Labels),
			Train:    takeRows(X, sp.Train),
			TrainY:   takeLabels(y, sp.Train),
			Holdout:  takeRows(X, sp.Holdout),
			HoldoutY: takeLabels(y, sp.Holdout),
		}
		for _, s := range part.Shares {
			p.logger.DebugContext(ctx, "class share", "grade", s.Class, "count", s.Count, "share", s.Share)
		}
		return len(ds.Labels), nil
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}

func takeRows(X *mat.Dense, rows []int) *mat.Dense {
	_, cols := X.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		out.SetRow(i, X.RawRowView(r))
	}
	return out
}

func takeLabels(y []int, rows []int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}

// Selection is the outcome of feature selection over the candidate columns.
type Selection struct {
	Method      string
	Candidates  []string
	Support     []bool
	Importances []float64 // per candidate; nil when no selector ran
	Ranking     []int     // recursive elimination only
	Cutoff      float64   // importance threshold only
}

// Selected returns the kept column names in candidate order.
func (s *Selection) Selected() []string {
	return selection.Selected(s.Candidates, s.Support)
}

// SelectFeatures fits the configured selector on the training part.
func (p *Pipeline) SelectFeatures(ctx context.Context, part *Partition) (*Selection, error) {
	var sel *Selection
	err := p.stage(ctx, StageSelectFeatures, func() (int, error) {
		sel = &Selection{Method: p.cfg.Selection.Method, Candidates: slices.Clone(part.Features)}

		var selector selection.Selector
		switch p.cfg.Selection.Method {
		case config.SelectionNone, "":
			sel.Method = config.SelectionNone
			sel.Support = make([]bool, len(part.Features))
			for i := range sel.Support {
				sel.Support[i] = true
			}
			return part.Train.RawMatrix().Rows, nil
		case config.SelectionImportance:
			selector = selection.NewImportanceThreshold(p.cfg.Selection.Threshold, p.cfg.SelectionParams())
		case config.SelectionRecursive:
			selector = selection.NewRecursive(p.cfg.Selection.Target, p.cfg.Selection.Step, p.cfg.SelectionParams())
		default:
			return 0, dgerrors.NewConfigError("SelectFeatures",
				fmt.Sprintf("unknown selection method %q", p.cfg.Selection.Method))
		}

		if err := selector.Fit(ctx, part.Train, part.TrainY, part.Features); err != nil {
			return 0, err
		}
		sel.Support = selector.Support()
		sel.Importances = selector.Importances()
		switch s := selector.(type) {
		case *selection.Recursive:
			sel.Ranking = s.Ranking()
		case *selection.ImportanceThreshold:
			sel.Cutoff = s.Cutoff()
		}
		p.logger.InfoContext(ctx, "features selected",
			"method", sel.Method, "kept", len(sel.Selected()), "of", len(sel.Candidates))
		return part.Train.RawMatrix().Rows, nil
	})
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// Train fits the classifier on the selected training columns.
func (p *Pipeline) Train(ctx context.Context, part *Partition, sel *Selection) (*forest.Forest, error) {
	var model *forest.Forest
	err := p.stage(ctx, StageTrain, func() (int, error) {
		X, err := selection.Columns(part.Train, sel.Support)
		if err != nil {
			return 0, err
		}
		model = forest.New(p.cfg.ForestParams())
		if err := model.FitContext(ctx, X, part.TrainY); err != nil {
			return 0, err
		}
		p.logger.DebugContext(ctx, "forest fitted",
			"trees", len(model.Trees), "features", model.NumFeatures(), "classes", model.Classes())
		return len(part.TrainY), nil
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Evaluation holds holdout scores. Only F1Micro drives decisions; the rest
// is reported.
type Evaluation struct {
	F1Micro   float64
	F1Macro   float64
	PerClass  []score.ClassReport
	Confusion *score.ConfusionMatrix
}

// Evaluate scores model on the holdout part.
func (p *Pipeline) Evaluate(ctx context.Context, model *forest.Forest, part *Partition, sel *Selection) (*Evaluation, error) {
	var eval *Evaluation
	err := p.stage(ctx, StageEvaluate, func() (int, error) {
		X, err := selection.Columns(part.Holdout, sel.Support)
		if err != nil {
			return 0, err
		}
		pred, err := model.Predict(X)
		if err != nil {
			return 0, err
		}

		eval = &Evaluation{}
		if eval.F1Micro, err = score.F1Micro(part.HoldoutY, pred); err != nil {
			return 0, err
		}
		if eval.F1Macro, err = score.F1Macro(part.HoldoutY, pred); err != nil {
			return 0, err
		}
		if eval.PerClass, err = score.PerClass(part.HoldoutY, pred); err != nil {
			return 0, err
		}
		if eval.Confusion, err = score.NewConfusionMatrix(part.HoldoutY, pred); err != nil {
			return 0, err
		}
		p.logger.InfoContext(ctx, "holdout scored", "f1_micro", score.Format(eval.F1Micro))
		return len(pred), nil
	})
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// Save writes the model artifact to the configured path.
func (p *Pipeline) Save(ctx context.Context, model *forest.Forest, sel *Selection, eval *Evaluation) (*artifact.Artifact, error) {
	var a *artifact.Artifact
	err := p.stage(ctx, StageSave, func() (int, error) {
		a = artifact.New(model, sel.Selected(), p.cb)
		a.Candidates = slices.Clone(sel.Candidates)
		a.Mask = slices.Clone(sel.Support)
		a.HoldoutF1 = eval.F1Micro
		a.Build = version.Short()
		if err := artifact.Save(p.cfg.Paths.Model, a); err != nil {
			return 0, err
		}
		p.logger.InfoContext(ctx, "model saved", "path", p.cfg.Paths.Model)
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare runs loading, encoding and splitting.
func (p *Pipeline) Prepare(ctx context.Context) (*Dataset, *Partition, error) {
	ds, err := p.LoadTraining(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Encode(ctx, ds); err != nil {
		return nil, nil, err
	}
	part, err := p.Split(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	// The matrices hold everything later stages need.
	p.tracker.Release("train_values")
	ds.Values = nil
	return ds, part, nil
}

// RunSelection prepares the data and runs feature selection only.
func (p *Pipeline) RunSelection(ctx context.Context) (*Selection, error) {
	_, part, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	return p.SelectFeatures(ctx, part)
}

// RunTraining runs every training stage and saves the model.
func (p *Pipeline) RunTraining(ctx context.Context) (*TrainingReport, error) {
	ds, part, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := p.SelectFeatures(ctx, part)
	if err != nil {
		return nil, err
	}
	model, err := p.Train(ctx, part, sel)
	if err != nil {
		return nil, err
	}
	eval, err := p.Evaluate(ctx, model, part, sel)
	if err != nil {
		return nil, err
	}
	if _, err := p.Save(ctx, model, sel, eval); err != nil {
		return nil, err
	}

	return &TrainingReport{
		Rows:        len(ds.IDs),
		TrainRows:   len(part.TrainY),
		HoldoutRows: len(part.HoldoutY),
		ClassShares: part.Shares,
		Selection:   sel,
		Importances: rankImportances(sel.Selected(), model.FeatureImportances()),
		Evaluation:  eval,
		ModelPath:   p.cfg.Paths.Model,
		Metrics:     p.metrics.GetMetrics(),
	}, nil
}

// Predict loads the saved model and the test table and writes a submission
// following the template's ids and column names.
func (p *Pipeline) Predict(ctx context.Context) (*PredictionReport, error) {
	var a *artifact.Artifact
	err := p.stage(ctx, StageLoadModel, func() (int, error) {
		var err error
		if a, err = artifact.Load(p.cfg.Paths.Model); err != nil {
			return 0, err
		}
		if err := a.CheckCodebook(p.cb); err != nil {
			return 0, err
		}
		p.logger.DebugContext(ctx, "model loaded",
			"build", a.Build, "features", len(a.Features), "holdout_f1", score.Format(a.HoldoutF1))
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	var (
		ids []int64
		X   *mat.Dense
	)
	err = p.stage(ctx, StageLoadTest, func() (int, error) {
		test, err := p.readTable(p.cfg.Paths.TestValues)
		if err != nil {
			return 0, err
		}
		p.tracker.Track("test_values", test)
		defer p.tracker.Release("test_values")

		if ids, err = uniqueIDs(test, p.cfg.Columns.ID, "Predict"); err != nil {
			return 0, err
		}
		candidates := a.Candidates
		if len(candidates) == 0 {
			candidates = a.Features
		}
		if err := validation.ValidateColumnOrder(candidates, test.Drop(p.cfg.Columns.ID).Columns(), "Predict"); err != nil {
			return 0, err
		}
		if _, err := p.cb.EncodeWith(test, p.tracker.Allocator()); err != nil {
			return 0, err
		}
		if X, err = test.Matrix(a.Features...); err != nil {
			return 0, err
		}
		return len(ids), nil
	})
	if err != nil {
		return nil, err
	}

	var labels []int
	err = p.stage(ctx, StagePredict, func() (int, error) {
		var err error
		if labels, err = a.Model.Predict(X); err != nil {
			return 0, err
		}
		return len(labels), nil
	})
	if err != nil {
		return nil, err
	}

	var tmpl *submission.Template
	err = p.stage(ctx, StageWriteSubmission, func() (int, error) {
		var err error
		if tmpl, err = submission.ReadTemplateFile(p.cfg.Paths.SubmissionTemplate); err != nil {
			return 0, err
		}
		preds, err := submission.Predictions(ids, labels)
		if err != nil {
			return 0, err
		}
		if err := submission.WriteFile(p.cfg.Paths.Submission, tmpl, preds); err != nil {
			return 0, err
		}
		p.logger.InfoContext(ctx, "submission written", "path", p.cfg.Paths.Submission, "rows", len(tmpl.IDs))
		return len(tmpl.IDs), nil
	})
	if err != nil {
		return nil, err
	}

	predicted := make([]int64, len(labels))
	for i, l := range labels {
		predicted[i] = int64(l)
	}
	return &PredictionReport{
		Rows:           len(tmpl.IDs),
		SubmissionPath: p.cfg.Paths.Submission,
		ModelHoldoutF1: a.HoldoutF1,
		Features:       slices.Clone(a.Features),
		Distribution:   split.Proportions(predicted),
		Metrics:        p.metrics.GetMetrics(),
	}, nil
}

// EncodeFile encodes the categorical columns of the table at in and writes
// the result to out. Both formats are chosen by file extension.
func (p *Pipeline) EncodeFile(ctx context.Context, in, out string) (int, error) {
	var rows int
	err := p.stage(ctx, StageEncode, func() (int, error) {
		df, err := p.readTable(in)
		if err != nil {
			return 0, err
		}
		p.tracker.Track("encode_input", df)
		defer p.tracker.Release("encode_input")

		if _, err := p.cb.EncodeWith(df, p.tracker.Allocator()); err != nil {
			return 0, err
		}
		if err := dgio.WriteFile(out, df); err != nil {
			return 0, err
		}
		rows = df.Len()
		return rows, nil
	})
	return rows, err
}
