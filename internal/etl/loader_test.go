package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/archive-ingest/internal/store"
)

func loadString(t *testing.T, l *Loader, input string) (FileSummary, error) {
	t.Helper()
	return l.LoadReader(context.Background(), "input.ndjson", strings.NewReader(input))
}

func TestLoader_Outcomes(t *testing.T) {
	s := newMemSession()
	s.failIDs["bad"] = &store.WriteError{Identifier: "bad", Err: errors.New("check constraint")}
	l := NewLoader(s, 500)

	input := strings.Join([]string{
		`{"identifier":"a","title":"A"}`,
		``,
		`   `,
		`{"identifier":"Unknown","url":"https://archive.org/details/b/"}`,
		`{not json`,
		`[1,2,3]`,
		`{"title":"no id","url":"https://example.com/"}`,
		`{"identifier":"bad","downloads":-1}`,
		`{"identifier":"c"}`,
	}, "\n")

	sum, err := loadString(t, l, input)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Written)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, s.identifiers())
}

func TestLoader_LastLineWithoutNewline(t *testing.T) {
	s := newMemSession()
	sum, err := loadString(t, NewLoader(s, 500), `{"identifier":"a"}`+"\n"+`{"identifier":"b"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, []string{"a", "b"}, s.identifiers())
}

func TestLoader_CommitBatching(t *testing.T) {
	s := newMemSession()
	l := NewLoader(s, 2)

	input := strings.Join([]string{
		`{"identifier":"a"}`,
		`{"title":"skip"}`,
		`{"identifier":"b"}`,
		`{"identifier":"c"}`,
		`{"identifier":"d"}`,
	}, "\n")

	sum, err := loadString(t, l, input)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Written)
	assert.Equal(t, 1, sum.Skipped)
	// Two batch commits (after 2 and 4 successes) plus the end-of-file commit.
	assert.Equal(t, 3, s.commits)
	assert.Len(t, s.rows, 4)
}

func TestLoader_CommitFailureMovesBatchToFailed(t *testing.T) {
	s := newMemSession()
	s.commitFails = 1
	l := NewLoader(s, 2)

	input := strings.Join([]string{
		`{"identifier":"a"}`,
		`{"identifier":"b"}`,
		`{"identifier":"c"}`,
	}, "\n")

	sum, err := loadString(t, l, input)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, s.rollbacks)
	assert.Equal(t, []string{"c"}, s.identifiers())
}

func TestLoader_UnexpectedErrorResetsSession(t *testing.T) {
	s := newMemSession()
	s.failIDs["boom"] = errors.New("connection reset by peer")
	l := NewLoader(s, 500)

	input := strings.Join([]string{
		`{"identifier":"a"}`,
		`{"identifier":"boom"}`,
		`{"identifier":"b"}`,
	}, "\n")

	sum, err := loadString(t, l, input)
	require.NoError(t, err)
	assert.Equal(t, 1, s.resets)
	// "a" was pending when the session was reset, so it is lost with the
	// transaction and counted as failed.
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, []string{"b"}, s.identifiers())
}

func TestLoader_SessionLostStopsFile(t *testing.T) {
	s := newMemSession()
	s.failIDs["boom"] = errors.New("connection reset by peer")
	s.resetErr = errors.New("server closed the connection")
	l := NewLoader(s, 1)

	input := strings.Join([]string{
		`{"identifier":"a"}`,
		`{"identifier":"boom"}`,
		`{"identifier":"never"}`,
	}, "\n")

	sum, err := loadString(t, l, input)
	require.ErrorIs(t, err, ErrSessionLost)
	assert.True(t, sum.Stopped)
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"a"}, s.identifiers(), "committed work is kept")
}

func TestLoader_SavepointFailureIsUnexpected(t *testing.T) {
	s := newMemSession()
	s.savepointErr = errors.New("no connection")
	sum, err := loadString(t, NewLoader(s, 500), `{"identifier":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, s.resets)
}

func TestLoader_Idempotent(t *testing.T) {
	s := newMemSession()
	l := NewLoader(s, 500)
	input := `{"identifier":"a","title":"First","downloads":"5"}` + "\n" + `{"identifier":"b"}`

	_, err := loadString(t, l, input)
	require.NoError(t, err)
	first := s.rows["a"]

	sum, err := loadString(t, l, input)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Written)
	assert.Len(t, s.rows, 2)
	assert.Equal(t, first, s.rows["a"])
	assert.Equal(t, int64(5), s.rows["a"].Downloads)
}

func TestLoader_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "a.ndjson"), `{"identifier":"a1"}`, `{"identifier":"a2"}`)
	writeLines(t, filepath.Join(dir, "b.jsonl"), `{"identifier":"b1"}`, `oops`)
	writeLines(t, filepath.Join(dir, "c_backup.ndjson"), `{"identifier":"ignored"}`)
	writeLines(t, filepath.Join(dir, "notes.txt"), `{"identifier":"ignored"}`)

	s := newMemSession()
	l := NewLoader(s, 500)
	total, err := l.LoadFiles(context.Background(), []string{dir, filepath.Join(dir, "missing.ndjson")})
	require.NoError(t, err)

	require.Len(t, total.Files, 3)
	assert.Equal(t, 3, total.Written)
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, []string{"a1", "a2", "b1"}, s.identifiers())
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	for _, name := range []string{"z.ndjson", "backup_old.ndjson", "a.JSONL", "x.json"} {
		writeLines(t, filepath.Join(dir, name), `{}`)
	}
	writeLines(t, filepath.Join(sub, "n.ndjson"), `{}`)

	files, err := CollectFiles([]string{dir, "explicit.ndjson"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.JSONL"),
		filepath.Join(sub, "n.ndjson"),
		filepath.Join(dir, "z.ndjson"),
		"explicit.ndjson",
	}, files)
}

func TestLoader_CancelMidRowRollsBackBatch(t *testing.T) {
	s := newMemSession()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.cancelOn = "b"
	s.cancel = cancel

	input := `{"identifier":"a"}` + "\n" + `{"identifier":"b"}` + "\n" + `{"identifier":"c"}` + "\n"
	sum, err := NewLoader(s, 100).LoadReader(ctx, "input.ndjson", strings.NewReader(input))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Written)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, s.rollbacks)
	assert.Empty(t, s.identifiers())
}
