package etl

import (
	"context"
	"encoding/json"

	"github.com/BartekS5/archive-ingest/pkg/models"
)

// PageSource returns one page of search results for a cursor. A nil cursor
// requests the first page.
type PageSource interface {
	FetchPage(ctx context.Context, cursor *string) (*Page, error)
}

// CheckpointStore persists the fetch position between runs.
type CheckpointStore interface {
	Load() (models.Checkpoint, error)
	Save(cp models.Checkpoint) error
}

// Page is a decoded search response. Items stay raw so that one malformed
// item never spoils the rest of the page.
type Page struct {
	Items  []json.RawMessage
	Cursor *string
}
