package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/garyellow/degree-advisor/internal/errors"
)

func testClient() *Client {
	c := NewClient(2*time.Second, 10, 0, 0, 2, nil)
	c.initialDelay = 5 * time.Millisecond
	return c
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"permanent error", &permanentError{err: errors.New("client error")}, false},
		{"wrapped permanent error", fmt.Errorf("wrapped: %w", &permanentError{err: errors.New("client error")}), false},
		{"timeout error", &netTimeError{timeout: true}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8080: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"unsupported scheme", errors.New("unsupported protocol scheme \"ftp\""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNetworkError(tt.err); got != tt.expected {
				t.Errorf("isNetworkError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

// netTimeError implements net.Error for testing
type netTimeError struct {
	timeout bool
}

func (e *netTimeError) Error() string   { return "net error" }
func (e *netTimeError) Timeout() bool   { return e.timeout }
func (e *netTimeError) Temporary() bool { return false }

func TestClientGet_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent header should be set")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = resp.Body.Close()

	if calls.Load() != 2 {
		t.Errorf("expected 2 calls (one retry), got %d", calls.Load())
	}
}

func TestClientGet_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("404 should not be retried, got %d calls", calls.Load())
	}
	if !errors.Is(err, apperrors.ErrContentFetch) {
		t.Errorf("error should wrap ErrContentFetch, got %v", err)
	}
	var se *apperrors.ScraperError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("expected ScraperError with status 404, got %v", err)
	}
}

func TestClientGetDocument_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("<html><body><h1>Compressed Course</h1></body></html>"))
	_ = zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	doc, err := testClient().GetDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got := doc.Find("h1").Text(); got != "Compressed Course" {
		t.Errorf("h1 = %q", got)
	}
}

func TestClientGetDocument_Latin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		// "Café" with é as a single Latin-1 byte.
		_, _ = w.Write([]byte("<html><body><h1>Caf\xe9 Management</h1></body></html>"))
	}))
	defer srv.Close()

	doc, err := testClient().GetDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got := doc.Find("h1").Text(); got != "Café Management" {
		t.Errorf("h1 = %q, want decoded Latin-1", got)
	}
}

func TestContentCharset(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"", ""},
		{"text/html", ""},
		{"text/html; charset=UTF-8", "utf-8"},
		{`text/html; charset="Big5"`, "big5"},
		{"not a media type; ===", ""},
	}
	for _, tt := range tests {
		if got := contentCharset(tt.contentType); got != tt.want {
			t.Errorf("contentCharset(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty header = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("invalid header = %v", got)
	}
}
