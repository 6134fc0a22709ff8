package scraper

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/metrics"
)

// maxPageBytes bounds how much of a course page is read.
const maxPageBytes = 4 << 20

// Client is an HTTP client for course pages with rate limiting and retries
type Client struct {
	httpClient   *http.Client
	rateLimiter  *RateLimiter
	maxRetries   int
	initialDelay time.Duration
	metrics      *metrics.Metrics
}

// NewClient creates a new scraper client. m may be nil.
func NewClient(timeout time.Duration, workers int, minDelay, maxDelay time.Duration, maxRetries int, m *metrics.Metrics) *Client {
	rl := NewRateLimiter(workers, minDelay, maxDelay)
	rl.metrics = m

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter:  rl,
		maxRetries:   maxRetries,
		initialDelay: time.Second,
		metrics:      m,
	}
}

// Get performs a GET request with rate limiting and retries.
// Caller is responsible for closing the response body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	var resp *http.Response

	err := RetryWithBackoff(ctx, c.maxRetries, c.initialDelay, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
		}

		req.Header.Set("User-Agent", uarand.GetRandom())
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept-Encoding", "gzip")

		start := time.Now()
		r, err := c.httpClient.Do(req)
		if err != nil {
			c.record(requestStatus(err), start)
			if isNetworkError(err) {
				return apperrors.NewScraperError(url, 0, err)
			}
			return &permanentError{err: apperrors.NewScraperError(url, 0, err)}
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			c.record("success", start)
			resp = r
			return nil
		}

		// Close body for non-success responses since we won't return it
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
		_ = r.Body.Close()

		statusErr := apperrors.NewScraperError(url, r.StatusCode, fmt.Errorf("unexpected status %d", r.StatusCode))
		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			c.record("rate_limited", start)
			return &retryAfterError{err: statusErr, after: parseRetryAfter(r.Header.Get("Retry-After"))}
		case r.StatusCode >= 500:
			c.record("error", start)
			return statusErr
		case r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone:
			c.record("not_found", start)
			return &permanentError{err: statusErr}
		default:
			c.record("error", start)
			return &permanentError{err: statusErr}
		}
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetDocument performs a GET request and parses the response as HTML.
// Declared non-UTF-8 charsets are decoded before parsing.
func (c *Client) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var reader io.Reader = io.LimitReader(resp.Body, maxPageBytes)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, apperrors.NewScraperError(url, resp.StatusCode, fmt.Errorf("failed to decompress gzip: %w", err))
		}
		defer func() { _ = gzipReader.Close() }()
		reader = io.LimitReader(gzipReader, maxPageBytes)
	}

	if charset := contentCharset(resp.Header.Get("Content-Type")); charset != "" && charset != "utf-8" {
		if enc, err := htmlindex.Get(charset); err == nil {
			reader = transform.NewReader(reader, enc.NewDecoder())
		}
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, apperrors.NewScraperError(url, resp.StatusCode, fmt.Errorf("failed to parse HTML: %w", err))
	}

	return doc, nil
}

func (c *Client) record(status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordScraperRequest(status, time.Since(start).Seconds())
	}
}

func contentCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(strings.TrimSpace(v) + "s"); err == nil && d > 0 {
		return d
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// isNetworkError reports whether err is a transient transport failure.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var permErr *permanentError
	if errors.As(err, &permErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "no such host", "eof", "broken pipe", "tls handshake timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func requestStatus(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "error"
}
