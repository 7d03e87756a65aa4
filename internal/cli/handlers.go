package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/archive-ingest/internal/config"
	"github.com/BartekS5/archive-ingest/internal/etl"
	"github.com/BartekS5/archive-ingest/internal/status"
	"github.com/BartekS5/archive-ingest/internal/store"
	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
)

// run is the shared setup of every command: config, logger, run id and the
// optional status server.
type run struct {
	cfg   *config.Config
	close func()
}

func startRun(command string) (*run, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.LogFile, logger.ParseLevel(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	id := uuid.NewString()
	stopStatus := status.Start(cfg.MetricsAddr, status.Info{RunID: id, Command: command, StartedAt: time.Now()})
	logger.SetRunID(id)
	logger.Info("Starting %s", command)

	return &run{
		cfg: cfg,
		close: func() {
			stopStatus()
			logger.SetRunID("")
			logger.Close()
		},
	}, nil
}

func runFetch(ctx context.Context, opts *FetchOptions) error {
	r, err := startRun("fetch")
	if err != nil {
		return err
	}
	defer r.close()

	profile, err := resolveProfile(opts)
	if err != nil {
		return err
	}

	cp := etl.FileCheckpoint{Path: profile.CheckpointFile}
	saved, err := cp.Load()
	if err != nil {
		return err
	}
	if opts.Restart {
		logger.Info("Ignoring checkpoint %s", profile.CheckpointFile)
		saved = models.Checkpoint{}
	} else if saved.Exhausted {
		logger.Info("Checkpoint %s marks the result set as complete; pass --restart to fetch again", profile.CheckpointFile)
		return nil
	}

	out, err := os.OpenFile(profile.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	client := etl.NewSearchClient(r.cfg.SearchURL, profile.Query, profile.PageSize, r.cfg.UserAgent)
	client.Fields = profile.Fields
	if profile.PageSizeParam != "" {
		client.PageSizeParam = profile.PageSizeParam
	}

	fetcher := &etl.Fetcher{
		Source:     client,
		Checkpoint: cp,
		Output:     out,
		PageDelay:  time.Duration(profile.PageDelay),
	}

	logger.Info("Fetching %q into %s (page size %d)", profile.Query, profile.Output, profile.PageSize)
	state, err := fetcher.Run(ctx, etl.StateFromCheckpoint(saved))
	logger.Info("Fetch stopped after %d pages: %d records written, %d dropped", state.Pages, state.Emitted, state.Dropped)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", profile.Name, err)
	}
	return nil
}

// resolveProfile picks the named profile, if any, and applies flag overrides.
func resolveProfile(opts *FetchOptions) (models.FetchProfile, error) {
	var p models.FetchProfile
	if opts.Profile != "" {
		file, err := config.LoadProfiles(opts.ProfilesFile)
		if err != nil {
			return p, err
		}
		if p, err = config.FindProfile(file, opts.Profile); err != nil {
			return p, err
		}
	}

	if opts.Query != "" {
		p.Query = opts.Query
	}
	if opts.Output != "" {
		p.Output = opts.Output
	}
	if opts.Checkpoint != "" {
		p.CheckpointFile = opts.Checkpoint
	}
	if opts.PageSize > 0 {
		p.PageSize = opts.PageSize
	}
	if opts.PageSizeParam != "" {
		p.PageSizeParam = opts.PageSizeParam
	}

	p = config.WithDefaults(p)
	return p, config.Validate(p)
}

func runLoad(ctx context.Context, w io.Writer, opts *LoadOptions, paths []string) error {
	r, err := startRun("load")
	if err != nil {
		return err
	}
	defer r.close()

	session, err := store.Open(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", r.cfg.DatabaseDriver, err)
	}
	defer session.Close()

	batch := r.cfg.CommitBatch
	if opts.CommitBatch > 0 {
		batch = opts.CommitBatch
	}

	start := time.Now()
	loader := etl.NewLoader(session, batch)
	total, err := loader.LoadFiles(ctx, paths)
	printLoadSummary(w, total, time.Since(start))
	return err
}

func printLoadSummary(w io.Writer, total etl.Summary, elapsed time.Duration) {
	fmt.Fprintln(w, "----------------------------------")
	for _, f := range total.Files {
		line := fmt.Sprintf("%s: written %d, skipped %d, failed %d", f.Path, f.Written, f.Skipped, f.Failed)
		if f.Stopped {
			line += " (stopped early)"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "TOTAL: written %d, skipped %d, failed %d in %s\n",
		total.Written, total.Skipped, total.Failed, elapsed.Round(time.Millisecond))
}

func runFiltersCollect(ctx context.Context, w io.Writer, opts *FiltersOptions, paths []string) error {
	r, err := startRun("filters collect")
	if err != nil {
		return err
	}
	defer r.close()

	counts, err := etl.CollectFilters(ctx, paths)
	if err != nil {
		return err
	}
	if err := etl.WriteFilterFiles(opts.Dir, counts, opts.MinCount); err != nil {
		return err
	}

	fmt.Fprintf(w, "Lines: %d\n", counts.Lines)
	fmt.Fprintf(w, "Languages: %d kept of %d\n", len(counts.LanguageList(opts.MinCount)), len(counts.Languages))
	fmt.Fprintf(w, "Subjects: %d kept of %d\n", len(counts.SubjectList(opts.MinCount)), len(counts.Subjects))
	fmt.Fprintf(w, "Years: %d kept of %d\n", len(counts.YearList(opts.MinCount)), len(counts.Years))
	return nil
}

func runFiltersLoad(ctx context.Context, w io.Writer, opts *FiltersOptions) error {
	r, err := startRun("filters load")
	if err != nil {
		return err
	}
	defer r.close()

	session, err := store.Open(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", r.cfg.DatabaseDriver, err)
	}
	defer session.Close()

	results, err := etl.LoadFilters(ctx, session, opts.Dir)
	for _, res := range results {
		if res.Missing {
			fmt.Fprintf(w, "%s: file not found\n", res.Kind)
			continue
		}
		fmt.Fprintf(w, "%s: %d inserted, %d duplicates\n", res.Kind, res.Inserted, res.Duplicates())
	}
	return err
}
