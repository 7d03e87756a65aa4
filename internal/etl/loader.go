package etl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BartekS5/archive-ingest/internal/metrics"
	"github.com/BartekS5/archive-ingest/internal/store"
	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

const (
	// SavepointName marks the rollback point taken before every row.
	SavepointName      = "before_row"
	DefaultCommitBatch = 500
	snapshotLimit      = 1000
)

// ErrSessionLost stops a file when the session could not be reset after an
// unexpected error. Rows committed before that point are kept.
var ErrSessionLost = errors.New("database session could not be recovered")

type outcome int

const (
	outcomeBlank outcome = iota
	outcomeWritten
	outcomeSkipped
	outcomeFailed
)

// FileSummary counts line outcomes for one input file.
type FileSummary struct {
	Path    string
	Written int
	Skipped int
	Failed  int
	Stopped bool
}

// Summary is the result of a whole load run.
type Summary struct {
	Files   []FileSummary
	Written int
	Skipped int
	Failed  int
}

func (s *Summary) add(fs FileSummary) {
	s.Files = append(s.Files, fs)
	s.Written += fs.Written
	s.Skipped += fs.Skipped
	s.Failed += fs.Failed
}

// Loader upserts stream records through a single session. Each row runs
// inside its own savepoint; the transaction is committed every CommitBatch
// successful lines and at the end of every file.
type Loader struct {
	Session     store.Session
	CommitBatch int
}

func NewLoader(session store.Session, commitBatch int) *Loader {
	if commitBatch <= 0 {
		commitBatch = DefaultCommitBatch
	}
	return &Loader{Session: session, CommitBatch: commitBatch}
}

// fileRun tracks one file: counters plus rows written since the last commit,
// which a rollback turns into failures.
type fileRun struct {
	sum         FileSummary
	pending     int
	sinceCommit int
}

func (r *fileRun) discardPending() {
	r.sum.Written -= r.pending
	r.sum.Failed += r.pending
	metrics.LoadLines.WithLabelValues("rolled_back").Add(float64(r.pending))
	r.pending = 0
	r.sinceCommit = 0
}

// LoadFiles loads every path in order, expanding directories. A missing or
// unreadable file is logged and skipped. ErrSessionLost stops the run.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (Summary, error) {
	var total Summary
	files, err := CollectFiles(paths)
	if err != nil {
		return total, err
	}
	if len(files) == 0 {
		logger.Warn("No input files found in %v", paths)
		return total, nil
	}

	for _, path := range files {
		sum, err := l.LoadFile(ctx, path)
		total.add(sum)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSessionLost) || ctx.Err() != nil {
			return total, err
		}
		logger.Error("Skipping %s: %v", path, err)
	}
	return total, nil
}

// LoadFile loads one NDJSON file.
func (l *Loader) LoadFile(ctx context.Context, path string) (FileSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSummary{Path: path}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	logger.Info("Processing %s", path)
	sum, err := l.LoadReader(ctx, path, f)
	logger.Info("File %s: %d written, %d skipped, %d failed", path, sum.Written, sum.Skipped, sum.Failed)
	return sum, err
}

// LoadReader loads NDJSON lines from r; name is used in log lines.
func (l *Loader) LoadReader(ctx context.Context, name string, r io.Reader) (FileSummary, error) {
	run := &fileRun{sum: FileSummary{Path: name}}
	batch := l.CommitBatch
	if batch <= 0 {
		batch = DefaultCommitBatch
	}

	br := bufio.NewReaderSize(r, 64*1024)
	lineNum := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if err := ctx.Err(); err != nil {
			// Interrupted between rows: keep what the batch already holds.
			l.commit(context.WithoutCancel(ctx), run)
			return run.sum, err
		}
		if len(line) > 0 {
			lineNum++
			res, err := l.processLine(ctx, name, lineNum, line)
			if err != nil && ctx.Err() != nil {
				// Interrupted mid-row: the transaction state is unknown.
				run.discardPending()
				if rbErr := l.Session.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
					logger.Warn("Rollback after interrupt: %v", rbErr)
				}
				return run.sum, ctx.Err()
			}
			if err != nil {
				logger.Error("Unexpected error in %s line %d: %v", name, lineNum, err)
				run.sum.Failed++
				metrics.LoadLines.WithLabelValues("failed").Inc()
				run.discardPending()
				if rerr := l.Session.Reset(ctx); rerr != nil {
					logger.Error("Session unusable after error in %s line %d, stopping file: %v", name, lineNum, rerr)
					run.sum.Stopped = true
					return run.sum, fmt.Errorf("%w: %v", ErrSessionLost, rerr)
				}
				continue
			}

			switch res {
			case outcomeWritten:
				run.sum.Written++
				run.pending++
				run.sinceCommit++
				metrics.LoadLines.WithLabelValues("written").Inc()
			case outcomeSkipped:
				run.sum.Skipped++
				run.sinceCommit++
				metrics.LoadLines.WithLabelValues("skipped").Inc()
			case outcomeFailed:
				run.sum.Failed++
				metrics.LoadLines.WithLabelValues("failed").Inc()
			}

			if run.sinceCommit >= batch {
				l.commit(ctx, run)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			l.commit(ctx, run)
			return run.sum, fmt.Errorf("read %s after line %d: %w", name, lineNum, readErr)
		}
	}

	l.commit(ctx, run)
	return run.sum, nil
}

// commit ends the current transaction. On failure the batch is rolled back and
// its written rows are counted as failed.
func (l *Loader) commit(ctx context.Context, run *fileRun) {
	if err := l.Session.Commit(ctx); err != nil {
		logger.Error("Commit failed in %s, rolling back %d rows: %v", run.sum.Path, run.pending, err)
		metrics.LoadCommits.WithLabelValues("failed").Inc()
		if rbErr := l.Session.Rollback(ctx); rbErr != nil {
			logger.Error("Rollback after failed commit: %v", rbErr)
		}
		run.discardPending()
		return
	}
	metrics.LoadCommits.WithLabelValues("ok").Inc()
	if run.sinceCommit > 0 {
		logger.Info("Committed %d rows (written + skipped) in %s", run.sum.Written+run.sum.Skipped, run.sum.Path)
	}
	run.pending = 0
	run.sinceCommit = 0
}

// processLine handles one raw line. A non-nil error means the session is in an
// unknown state and must be reset.
func (l *Loader) processLine(ctx context.Context, name string, lineNum int, line []byte) (outcome, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return outcomeBlank, nil
	}

	decoded, err := utils.DecodeJSON(trimmed)
	if err != nil {
		logger.Warn("JSON decode error in %s line %d: %v", name, lineNum, err)
		return outcomeFailed, nil
	}
	rec, ok := decoded.(map[string]interface{})
	if !ok {
		logger.Warn("JSON decode error in %s line %d: expected an object", name, lineNum)
		return outcomeFailed, nil
	}

	s := l.Session
	if err := s.Savepoint(ctx, SavepointName); err != nil {
		return 0, fmt.Errorf("savepoint: %w", err)
	}

	item, ok, err := Normalize(rec)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := l.unwind(ctx); err != nil {
			return 0, err
		}
		return outcomeSkipped, nil
	}

	if err := s.UpsertItem(ctx, item); err != nil {
		if !store.IsWriteError(err) {
			return 0, err
		}
		logger.Warn("DB error writing identifier=%s: %v", item.Identifier, err)
		logger.Debug("Failed row (truncated): %s", snapshot(trimmed))
		if uerr := l.unwind(ctx); uerr != nil {
			return 0, fmt.Errorf("undo failed row %q: %w", item.Identifier, uerr)
		}
		return outcomeFailed, nil
	}

	if err := s.Release(ctx, SavepointName); err != nil {
		return 0, fmt.Errorf("release savepoint: %w", err)
	}
	return outcomeWritten, nil
}

// unwind rolls back to the row savepoint and drops it.
func (l *Loader) unwind(ctx context.Context) error {
	if err := l.Session.RollbackTo(ctx, SavepointName); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	if err := l.Session.Release(ctx, SavepointName); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func snapshot(b []byte) string {
	if len(b) > snapshotLimit {
		return string(b[:snapshotLimit])
	}
	return string(b)
}

// CollectFiles expands directories into the *.ndjson and *.jsonl files below
// them, skipping names that contain "backup". Plain file paths are kept as
// given.
func CollectFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			out = append(out, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			ext := strings.ToLower(filepath.Ext(name))
			if (ext == ".ndjson" || ext == ".jsonl") && !strings.Contains(name, "backup") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
