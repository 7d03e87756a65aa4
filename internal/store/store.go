// Package store writes normalized archive items to a backing database through
// a connection-scoped Session with named rollback points.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/BartekS5/archive-ingest/pkg/models"
)

// Session is one write session on a single connection. A transaction is
// started lazily by the first statement after Commit or Rollback.
type Session interface {
	// Savepoint, RollbackTo and Release manage a named rollback point inside
	// the current transaction.
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	// UpsertItem inserts the item or overwrites every non-key column of the
	// row with the same identifier, refreshing updated_at. Failures reported
	// by the database are returned as *WriteError.
	UpsertItem(ctx context.Context, item *models.ArchiveItem) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Reset discards the current transaction and makes sure the connection is
	// usable, reconnecting when needed.
	Reset(ctx context.Context) error

	// InsertLookup inserts values into a lookup table, ignoring duplicates,
	// and returns the number of new rows. The caller commits.
	InsertLookup(ctx context.Context, kind models.LookupKind, values []interface{}) (int64, error)

	Close() error
}

// WriteError is a statement failure reported by the database itself
// (constraint violation, type mismatch). The session stays usable after
// rolling back to the last savepoint.
type WriteError struct {
	Identifier string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Identifier, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsWriteError reports whether err is, or wraps, a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

var ErrNoTransaction = errors.New("no transaction in progress")

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	return nil
}

// lookupTable returns the table name for kind, rejecting unknown kinds.
func lookupTable(kind models.LookupKind) (string, error) {
	switch kind {
	case models.LookupLanguages, models.LookupSubjects, models.LookupYears:
		return string(kind), nil
	default:
		return "", fmt.Errorf("unknown lookup table %q", kind)
	}
}

// upsertColumns are the archive_items columns written by UpsertItem, key
// first.
var upsertColumns = []string{
	"identifier", "title", "description", "language", "item_size", "downloads",
	"btih", "mediatype", "subject", "publicdate", "url",
}

func itemArgs(item *models.ArchiveItem) []interface{} {
	var subject interface{}
	if b := item.SubjectParam(); b != nil {
		subject = string(b)
	}
	return []interface{}{
		item.Identifier, item.Title, item.Description, item.Language,
		item.ItemSize, item.Downloads, item.BTIH, item.MediaType,
		subject, item.PublicDate, item.URL,
	}
}
