package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BartekS5/archive-ingest/internal/metrics"
	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
)

const (
	DefaultMaxAttempts   = 4
	DefaultBaseDelay     = time.Second
	DefaultPageSizeParam = "count"
	requestTimeout       = 60 * time.Second
)

// ErrRetriesExhausted is returned when a page could not be fetched within the
// attempt budget. The checkpoint still points at that page.
var ErrRetriesExhausted = errors.New("search request retries exhausted")

// SearchClient fetches pages from the scrape endpoint of the archive search
// API.
type SearchClient struct {
	BaseURL       string
	Query         string
	Fields        []string
	PageSize      int
	PageSizeParam string
	UserAgent     string
	MaxAttempts   int
	BaseDelay     time.Duration
	HTTP          *http.Client

	// Sleep waits between attempts. Tests replace it to skip the backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewSearchClient(baseURL, query string, pageSize int, userAgent string) *SearchClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &SearchClient{
		BaseURL:       baseURL,
		Query:         query,
		Fields:        models.SearchFields,
		PageSize:      pageSize,
		PageSizeParam: DefaultPageSizeParam,
		UserAgent:     userAgent,
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		HTTP:          &http.Client{Transport: transport, Timeout: requestTimeout},
		Sleep:         sleepContext,
	}
}

// FetchPage requests the page at cursor, retrying transport errors, non-2xx
// responses and bodies without an items array. The wait before retry n
// (counting from 0) is BaseDelay * 2^n.
func (c *SearchClient) FetchPage(ctx context.Context, cursor *string) (*Page, error) {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		page, err := c.fetchOnce(ctx, cursor)
		if err == nil {
			metrics.FetchRequests.WithLabelValues("success").Inc()
			metrics.FetchPageSeconds.Observe(time.Since(start).Seconds())
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logger.Warn("Fetch attempt %d/%d at cursor %s failed: %v", attempt+1, attempts, describeCursor(cursor), err)

		if attempt < attempts-1 {
			metrics.FetchRequests.WithLabelValues("retry").Inc()
			if err := sleep(ctx, c.BaseDelay<<attempt); err != nil {
				return nil, err
			}
		}
	}

	metrics.FetchRequests.WithLabelValues("exhausted").Inc()
	return nil, fmt.Errorf("%w: %d attempts at cursor %s: %v", ErrRetriesExhausted, attempts, describeCursor(cursor), lastErr)
}

func (c *SearchClient) fetchOnce(ctx context.Context, cursor *string) (*Page, error) {
	reqURL, err := c.pageURL(cursor)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("network").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 500 {
			metrics.FetchErrors.WithLabelValues("5xx").Inc()
		} else {
			metrics.FetchErrors.WithLabelValues("4xx").Inc()
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(body))
	}

	page, err := decodePage(body)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("invalid").Inc()
		return nil, err
	}
	return page, nil
}

func (c *SearchClient) pageURL(cursor *string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid search url %q: %w", c.BaseURL, err)
	}
	param := c.PageSizeParam
	if param == "" {
		param = DefaultPageSizeParam
	}
	q := u.Query()
	q.Set("q", c.Query)
	q.Set("fields", strings.Join(c.Fields, ","))
	q.Set(param, strconv.Itoa(c.PageSize))
	if cursor != nil {
		q.Set("cursor", *cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type pageBody struct {
	Items  []json.RawMessage `json:"items"`
	Cursor json.RawMessage   `json:"cursor"`
}

// decodePage rejects bodies whose items key is missing or null. A cursor that
// is absent, null, empty or not a string means there is no next page.
func decodePage(body []byte) (*Page, error) {
	var pb pageBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	if pb.Items == nil {
		return nil, errors.New("response has no items array")
	}
	page := &Page{Items: pb.Items}
	var next string
	if len(pb.Cursor) > 0 && json.Unmarshal(pb.Cursor, &next) == nil && next != "" {
		page.Cursor = &next
	}
	return page, nil
}

func describeCursor(cursor *string) string {
	if cursor == nil {
		return "<start>"
	}
	return *cursor
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
