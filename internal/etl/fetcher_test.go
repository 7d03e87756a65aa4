package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/archive-ingest/pkg/models"
)

// scriptedSource serves pages keyed by cursor; "" is the first page. failAt
// makes the request for that cursor fail.
type scriptedSource struct {
	pages  map[string]*Page
	failAt string
	calls  []string
}

func (s *scriptedSource) FetchPage(ctx context.Context, cursor *string) (*Page, error) {
	key := ""
	if cursor != nil {
		key = *cursor
	}
	s.calls = append(s.calls, key)
	if s.failAt != "" && key == s.failAt {
		return nil, fmt.Errorf("%w: simulated outage", ErrRetriesExhausted)
	}
	p, ok := s.pages[key]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", key)
	}
	return p, nil
}

func strPtr(s string) *string { return &s }

func rawItems(ids ...string) []json.RawMessage {
	items := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"identifier":%q,"title":"T %s","downloads":3}`, id, id)))
	}
	return items
}

func threePages() map[string]*Page {
	return map[string]*Page{
		"":   {Items: rawItems("a1", "a2"), Cursor: strPtr("c2")},
		"c2": {Items: rawItems("b1", "b2"), Cursor: strPtr("c3")},
		"c3": {Items: rawItems("c1"), Cursor: nil},
	}
}

func readIdentifiers(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec["identifier"].(string))
	}
	require.NoError(t, sc.Err())
	return ids
}

func newTestFetcher(t *testing.T, src PageSource, dir string) (*Fetcher, *os.File, FileCheckpoint) {
	t.Helper()
	out, err := os.OpenFile(filepath.Join(dir, "out.ndjson"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { out.Close() })
	cp := FileCheckpoint{Path: filepath.Join(dir, "checkpoint.json")}
	f := &Fetcher{
		Source:     src,
		Checkpoint: cp,
		Output:     out,
		PageDelay:  time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
	return f, out, cp
}

func TestFetcher_RunToEnd(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{pages: threePages()}
	f, _, cp := newTestFetcher(t, src, dir)

	state, err := f.Run(context.Background(), FetchState{})
	require.NoError(t, err)
	assert.Equal(t, 3, state.Pages)
	assert.Equal(t, 5, state.Emitted)
	assert.True(t, state.Exhausted)
	assert.Nil(t, state.Cursor)

	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c1"}, readIdentifiers(t, filepath.Join(dir, "out.ndjson")))

	saved, err := cp.Load()
	require.NoError(t, err)
	assert.Nil(t, saved.LastCursor)
	assert.True(t, saved.Exhausted)
}

func TestFetcher_ResumesWithoutDuplicates(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{pages: threePages(), failAt: "c3"}
	f, _, cp := newTestFetcher(t, src, dir)

	state, err := f.Run(context.Background(), FetchState{})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, state.Pages)

	saved, err := cp.Load()
	require.NoError(t, err)
	require.NotNil(t, saved.LastCursor)
	assert.Equal(t, "c3", *saved.LastCursor)
	assert.False(t, saved.Exhausted)

	// Second run starts from the checkpoint, not from page 1.
	src2 := &scriptedSource{pages: threePages()}
	f2, _, _ := newTestFetcher(t, src2, dir)
	state, err = f2.Run(context.Background(), StateFromCheckpoint(saved))
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, src2.calls)
	assert.Equal(t, 1, state.Pages)

	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c1"}, readIdentifiers(t, filepath.Join(dir, "out.ndjson")))
}

func TestFetcher_EmptyPageStops(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{pages: map[string]*Page{
		"":   {Items: rawItems("a1"), Cursor: strPtr("c2")},
		"c2": {Items: []json.RawMessage{}, Cursor: strPtr("c3")},
	}}
	f, _, cp := newTestFetcher(t, src, dir)

	state, err := f.Run(context.Background(), FetchState{})
	require.NoError(t, err)
	assert.Equal(t, 1, state.Pages)
	assert.False(t, state.Exhausted)

	saved, err := cp.Load()
	require.NoError(t, err)
	require.NotNil(t, saved.LastCursor)
	assert.Equal(t, "c2", *saved.LastCursor)
}

func TestFetcher_DropsItemsWithoutIdentifier(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{pages: map[string]*Page{
		"": {Items: []json.RawMessage{
			json.RawMessage(`{"identifier":"keep"}`),
			json.RawMessage(`{"title":"no id"}`),
			json.RawMessage(`{"identifier":""}`),
			json.RawMessage(`"not an object"`),
		}},
	}}
	f, _, _ := newTestFetcher(t, src, dir)

	state, err := f.Run(context.Background(), FetchState{})
	require.NoError(t, err)
	assert.Equal(t, 1, state.Emitted)
	assert.Equal(t, 3, state.Dropped)
	assert.Equal(t, []string{"keep"}, readIdentifiers(t, filepath.Join(dir, "out.ndjson")))
}

func TestFetcher_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{pages: threePages()}
	f, _, _ := newTestFetcher(t, src, dir)
	ctx, cancel := context.WithCancel(context.Background())
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	state, err := f.Run(ctx, FetchState{})
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, state.Pages)
	assert.Equal(t, []string{""}, src.calls)
}

func TestShapeRecord(t *testing.T) {
	rec, ok := ShapeRecord(json.RawMessage(`{"identifier":"abc","title":"Title","subject":["x"],"language":null,"extra":"dropped"}`))
	require.True(t, ok)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"identifier":"abc","description":"Unknown","language":null,"item_size":0,
		"downloads":0,"btih":"Unknown","mediatype":"Unknown","subject":["x"],
		"title":"Title","publicdate":"Unknown","url":"https://archive.org/details/abc"
	}`, string(b))
}

func TestShapeRecord_KeepsRealIdentifier(t *testing.T) {
	rec, ok := ShapeRecord(json.RawMessage(`{"identifier":"real-id","title":"Some Title"}`))
	require.True(t, ok)
	assert.JSONEq(t, `"real-id"`, string(rec.Identifier))
	assert.JSONEq(t, `"Some Title"`, string(rec.Title))
}

func TestShapeRecord_Rejects(t *testing.T) {
	for _, raw := range []string{`{}`, `{"identifier":null}`, `{"identifier":"Unknown"}`, `{"identifier":["a"]}`, `[1]`, `null`} {
		_, ok := ShapeRecord(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}

func TestStateFromCheckpoint(t *testing.T) {
	s := StateFromCheckpoint(models.Checkpoint{LastCursor: strPtr("c"), Exhausted: true})
	assert.Equal(t, "c", *s.Cursor)
	assert.True(t, s.Exhausted)
}
