package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/archive-ingest/internal/etl"
)

type FiltersOptions struct {
	Dir      string
	MinCount int
}

func NewFiltersCmd() *cobra.Command {
	opts := &FiltersOptions{}

	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Build the languages, subjects and years lookup tables",
	}

	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "d", ".", "Directory holding languages.json, subjects.json and years.json")

	collect := &cobra.Command{
		Use:   "collect [file or directory]...",
		Short: "Count filter values in NDJSON files and write the filter files",
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runFiltersCollect(c.Context(), c.OutOrStdout(), opts, args)
		},
	}
	collect.Flags().IntVar(&opts.MinCount, "min", etl.DefaultMinCount, "Minimum occurrences for a value to be kept")

	load := &cobra.Command{
		Use:   "load",
		Short: "Insert the filter files into their lookup tables",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runFiltersLoad(c.Context(), c.OutOrStdout(), opts)
		},
	}

	cmd.AddCommand(collect, load)
	return cmd
}
