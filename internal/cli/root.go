// Package cli wires the fetch, load and filters commands with cobra.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "archive-ingest",
		Short: "Collect archive search results and load them into a database",
		Long: `archive-ingest walks the archive search API into resumable NDJSON files
and upserts those files into the archive_items table, one savepoint per row.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewFetchCmd(), NewLoadCmd(), NewFiltersCmd())

	return rootCmd
}
