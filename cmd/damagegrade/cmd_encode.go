package main

import (
	"fmt"

	"github.com/paveg/damagegrade/internal/version"
	"github.com/spf13/cobra"
)

func newEncodeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <input> <output>",
		Short: "Encode the categorical columns of a values table",
		Long: `Replace every codebook column of a values table with integer codes and write
the result. The output format follows the file extension (.csv or .parquet).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := opts.pipeline()
			defer p.Close()

			rows, err := p.EncodeFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encoded %d rows with codebook %s: %s\n", rows, opts.cb.Version, args[1])
			return nil
		},
	}
}

func newConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.cfg.ToYAML()
			if err != nil {
				return fmt.Errorf("rendering config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// No configuration is needed to report the build.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), version.Info().String())
			return nil
		},
	}
}
