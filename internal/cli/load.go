package cli

import (
	"github.com/spf13/cobra"
)

type LoadOptions struct {
	CommitBatch int
}

func NewLoadCmd() *cobra.Command {
	opts := &LoadOptions{}

	cmd := &cobra.Command{
		Use:   "load [file or directory]...",
		Short: "Upsert NDJSON records into archive_items",
		Long: `load reads each NDJSON file (directories are searched for *.ndjson and *.jsonl,
skipping names containing "backup") and upserts every record by identifier.
With no arguments the current directory is loaded.`,
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runLoad(c.Context(), c.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.CommitBatch, "commit-batch", "b", 0, "Commit every N successful lines (default COMMIT_BATCH or 500)")

	return cmd
}
