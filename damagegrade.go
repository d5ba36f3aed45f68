// Package damagegrade predicts earthquake damage grades for surveyed
// buildings. This package is the public API of the module; the command in
// cmd/damagegrade offers the same workflow on the command line.
//
// A typical run loads a configuration, trains and predicts:
//
//	cfg, err := damagegrade.LoadConfig("damagegrade.yaml")
//	if err != nil {
//		return err
//	}
//	report, pred, err := damagegrade.Run(ctx, cfg, damagegrade.WithLogger(logger))
package damagegrade

import (
	"context"
	"log/slog"

	"github.com/paveg/damagegrade/internal/codebook"
	"github.com/paveg/damagegrade/internal/config"
	"github.com/paveg/damagegrade/internal/pipeline"
)

// Config is the pipeline configuration.
type Config = config.Config

// Codebook maps categorical survey codes to integers.
type Codebook = codebook.Codebook

// TrainingReport summarises a training run.
type TrainingReport = pipeline.TrainingReport

// PredictionReport summarises a prediction run.
type PredictionReport = pipeline.PredictionReport

// Selection is the outcome of feature selection.
type Selection = pipeline.Selection

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return config.NewConfig()
}

// LoadConfig reads a YAML or JSON configuration file, applies DAMAGEGRADE_*
// environment overrides and validates the result. An empty path loads the
// defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultCodebook returns the codebook of the survey's categorical columns.
func DefaultCodebook() *Codebook {
	return codebook.Default()
}

// LoadCodebook reads a codebook from a YAML or JSON file.
func LoadCodebook(path string) (*Codebook, error) {
	return codebook.Load(path)
}

type options struct {
	logger   *slog.Logger
	codebook *Codebook
}

// Option configures a run.
type Option func(*options)

// WithLogger sets the logger stages report to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCodebook sets the codebook used for encoding. Without it the
// configured codebook path is loaded, falling back to DefaultCodebook.
func WithCodebook(cb *Codebook) Option {
	return func(o *options) { o.codebook = cb }
}

func newPipeline(cfg Config, opts []Option) (*pipeline.Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.codebook == nil && cfg.Paths.Codebook != "" {
		cb, err := codebook.Load(cfg.Paths.Codebook)
		if err != nil {
			return nil, err
		}
		o.codebook = cb
	}
	return pipeline.New(cfg, o.codebook, o.logger), nil
}

// Train fits a model on the configured training tables and saves it.
func Train(ctx context.Context, cfg Config, opts ...Option) (*TrainingReport, error) {
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.RunTraining(ctx)
}

// Predict writes a submission using the saved model.
func Predict(ctx context.Context, cfg Config, opts ...Option) (*PredictionReport, error) {
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Predict(ctx)
}

// Run trains, saves and then predicts.
func Run(ctx context.Context, cfg Config, opts ...Option) (*TrainingReport, *PredictionReport, error) {
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	defer p.Close()

	report, err := p.RunTraining(ctx)
	if err != nil {
		return nil, nil, err
	}
	pred, err := p.Predict(ctx)
	if err != nil {
		return report, nil, err
	}
	return report, pred, nil
}

// SelectFeatures runs feature selection with the configured method without
// training or saving a model.
func SelectFeatures(ctx context.Context, cfg Config, opts ...Option) (*Selection, error) {
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.RunSelection(ctx)
}
