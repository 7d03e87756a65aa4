package etl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) (*SearchClient, *[]time.Duration) {
	c := NewSearchClient(url, "mediatype:texts", 100, "test-agent/1.0")
	var sleeps []time.Duration
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestSearchClient_RequestParameters(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`{"items":[{"identifier":"a"}],"cursor":"next-1"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	cursor := "abc"
	page, err := c.FetchPage(context.Background(), &cursor)
	require.NoError(t, err)

	q := got.URL.Query()
	assert.Equal(t, "mediatype:texts", q.Get("q"))
	assert.Equal(t, "identifier,description,language,item_size,downloads,btih,mediatype,subject,title,publicdate", q.Get("fields"))
	assert.Equal(t, "100", q.Get("count"))
	assert.Equal(t, "abc", q.Get("cursor"))
	assert.Equal(t, "test-agent/1.0", got.Header.Get("User-Agent"))

	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "next-1", *page.Cursor)
}

func TestSearchClient_FirstPageOmitsCursor(t *testing.T) {
	var hasCursor atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasCursor.Store(r.URL.Query().Has("cursor"))
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	c.PageSizeParam = "size"
	page, err := c.FetchPage(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, hasCursor.Load())
	assert.Empty(t, page.Items)
	assert.Nil(t, page.Cursor)
}

func TestSearchClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Write([]byte(`{"error":"busy"}`))
		default:
			w.Write([]byte(`{"items":[{"identifier":"x"}]}`))
		}
	}))
	defer srv.Close()

	c, sleeps := newTestClient(srv.URL)
	page, err := c.FetchPage(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestSearchClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(srv.URL)
	cursor := "stuck"
	_, err := c.FetchPage(context.Background(), &cursor)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "stuck")
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestSearchClient_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(srv.URL)
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}
	_, err := c.FetchPage(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestDecodePage(t *testing.T) {
	_, err := decodePage([]byte(`{"cursor":"x"}`))
	assert.Error(t, err, "items missing")

	_, err = decodePage([]byte(`{"items":null}`))
	assert.Error(t, err, "items null")

	_, err = decodePage([]byte(`not json`))
	assert.Error(t, err)

	page, err := decodePage([]byte(`{"items":[1,{"identifier":"a"}],"cursor":""}`))
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Nil(t, page.Cursor, "empty cursor ends the walk")
}
