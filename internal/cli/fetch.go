package cli

import (
	"github.com/spf13/cobra"
)

type FetchOptions struct {
	ProfilesFile  string
	Profile       string
	Query         string
	Output        string
	Checkpoint    string
	PageSize      int
	PageSizeParam string
	Restart       bool
}

func NewFetchCmd() *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch search results into an NDJSON file, resuming from the checkpoint",
		Example: `  archive-ingest fetch -t texts
  archive-ingest fetch --query 'mediatype:(audio)' --output audio.ndjson --checkpoint audio.json`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runFetch(c.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ProfilesFile, "profiles", "f", "configs/profiles.json", "Path to the fetch profiles file")
	cmd.Flags().StringVarP(&opts.Profile, "profile", "t", "", "Profile name from the profiles file")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Search query (overrides the profile)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "NDJSON output file (overrides the profile)")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "Checkpoint file (overrides the profile)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "Results per page (overrides the profile)")
	cmd.Flags().StringVar(&opts.PageSizeParam, "page-size-param", "", "Query parameter carrying the page size (default \"count\")")
	cmd.Flags().BoolVar(&opts.Restart, "restart", false, "Ignore the saved checkpoint and start from the first page")

	return cmd
}
