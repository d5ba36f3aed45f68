package main

import (
	"fmt"

	"github.com/paveg/damagegrade/internal/config"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/spf13/cobra"
)

func newTrainCommand(opts *options) *cobra.Command {
	var model, selection string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a model and save it",
		Long: `Load the training values and labels, encode them, hold out a stratified
sample, optionally select features, fit the forest, score it on the holdout
and save the model artifact.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := overridePaths(opts, model, "", selection); err != nil {
				return err
			}
			p := opts.pipeline()
			defer p.Close()
			defer opts.printMetrics(cmd, p)

			report, err := p.RunTraining(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model artifact path (overrides config)")
	cmd.Flags().StringVar(&selection, "selection", "", "Feature selection method: none, importance or rfe")
	return cmd
}

func newPredictCommand(opts *options) *cobra.Command {
	var model, out string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Write a submission with a saved model",
		Long: `Load a saved model, encode the test values with the same codebook and write
one prediction per id of the submission template, in template order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := overridePaths(opts, model, out, ""); err != nil {
				return err
			}
			p := opts.pipeline()
			defer p.Close()
			defer opts.printMetrics(cmd, p)

			report, err := p.Predict(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model artifact path (overrides config)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Submission path (overrides config)")
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	var selection string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, then predict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := overridePaths(opts, "", "", selection); err != nil {
				return err
			}
			p := opts.pipeline()
			defer p.Close()
			defer opts.printMetrics(cmd, p)

			report, err := p.RunTraining(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)

			pred, err := p.Predict(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pred)
			return nil
		},
	}
	cmd.Flags().StringVar(&selection, "selection", "", "Feature selection method: none, importance or rfe")
	return cmd
}

func newSelectCommand(opts *options) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Report selected features without saving a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if method == config.SelectionNone {
				return dgerrors.NewConfigError("select",
					fmt.Sprintf("select needs a method: %s or %s", config.SelectionImportance, config.SelectionRecursive))
			}
			if err := overridePaths(opts, "", "", method); err != nil {
				return err
			}
			p := opts.pipeline()
			defer p.Close()
			defer opts.printMetrics(cmd, p)

			sel, err := p.RunSelection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sel)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", config.SelectionImportance, "Selection method: importance or rfe")
	return cmd
}

// overridePaths applies command flags on top of the loaded configuration.
func overridePaths(opts *options, model, submission, selection string) error {
	if model != "" {
		opts.cfg.Paths.Model = model
	}
	if submission != "" {
		opts.cfg.Paths.Submission = submission
	}
	if selection != "" {
		opts.cfg.Selection.Method = selection
	}
	return opts.cfg.Validate()
}
