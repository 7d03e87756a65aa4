package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/BartekS5/archive-ingest/internal/metrics"
	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
)

// FetchState is the fetch position plus running totals. Run takes it in and
// hands it back, so the caller owns it.
type FetchState struct {
	Cursor    *string
	Exhausted bool
	Pages     int
	Emitted   int
	Dropped   int
}

// StateFromCheckpoint starts a run from a saved checkpoint.
func StateFromCheckpoint(cp models.Checkpoint) FetchState {
	return FetchState{Cursor: cp.LastCursor, Exhausted: cp.Exhausted}
}

type syncer interface {
	Sync() error
}

// Fetcher walks the search result set page by page, appending shaped records
// to Output. The checkpoint is saved only after a page's lines are flushed
// and synced.
type Fetcher struct {
	Source     PageSource
	Checkpoint CheckpointStore
	Output     io.Writer
	PageDelay  time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Run fetches until the API returns an empty page or no next cursor. On error
// the returned state reflects every page that was durably written.
func (f *Fetcher) Run(ctx context.Context, state FetchState) (FetchState, error) {
	sleep := f.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger.Info("Starting fetch at cursor %s", describeCursor(state.Cursor))
	start := time.Now()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		page, err := f.Source.FetchPage(ctx, state.Cursor)
		if err != nil {
			return state, fmt.Errorf("fetch page %d: %w", state.Pages+1, err)
		}
		if len(page.Items) == 0 {
			logger.Info("No more items at cursor %s", describeCursor(state.Cursor))
			return state, nil
		}

		buf.Reset()
		emitted, dropped := 0, 0
		for _, raw := range page.Items {
			rec, ok := ShapeRecord(raw)
			if !ok {
				dropped++
				continue
			}
			if err := enc.Encode(rec); err != nil {
				return state, fmt.Errorf("encode record: %w", err)
			}
			emitted++
		}

		if err := f.writePage(buf.Bytes()); err != nil {
			return state, err
		}

		state.Pages++
		state.Emitted += emitted
		state.Dropped += dropped
		state.Cursor = page.Cursor
		state.Exhausted = page.Cursor == nil
		metrics.PagesWritten.Inc()
		metrics.FetchRecords.WithLabelValues("emitted").Add(float64(emitted))
		metrics.FetchRecords.WithLabelValues("dropped").Add(float64(dropped))

		cp := models.Checkpoint{LastCursor: state.Cursor, Exhausted: state.Exhausted}
		if err := f.Checkpoint.Save(cp); err != nil {
			return state, fmt.Errorf("save checkpoint after page %d: %w", state.Pages, err)
		}

		rate := 0.0
		if d := time.Since(start).Seconds(); d > 0 {
			rate = float64(state.Emitted) / d
		}
		logger.Info("Page %d: saved %d items (%d dropped). Total: %d. Rate: %.2f items/sec", state.Pages, emitted, dropped, state.Emitted, rate)

		if state.Exhausted {
			logger.Info("Reached end of result set")
			return state, nil
		}
		if err := sleep(ctx, f.PageDelay); err != nil {
			return state, err
		}
	}
}

func (f *Fetcher) writePage(lines []byte) error {
	if len(lines) > 0 {
		if _, err := f.Output.Write(lines); err != nil {
			return fmt.Errorf("append page: %w", err)
		}
	}
	if s, ok := f.Output.(syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync output: %w", err)
		}
	}
	return nil
}
