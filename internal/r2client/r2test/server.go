// Package r2test runs an in-memory S3-compatible server for tests of code
// that talks to R2. It implements the subset of the API r2client uses:
// path-style PUT (with If-None-Match/If-Match), GET, HEAD, DELETE and a
// single-page ListObjectsV2.
package r2test

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/garyellow/degree-advisor/internal/r2client"
)

const metaPrefix = "X-Amz-Meta-"

type object struct {
	data        []byte
	etag        string
	contentType string
	meta        map[string]string
}

// Server is a fake R2 bucket.
type Server struct {
	*httptest.Server
	Bucket string

	mu      sync.Mutex
	objects map[string]object
}

// NewServer starts a fake bucket. Close it when done.
func NewServer() *Server {
	s := &Server{Bucket: "test-bucket", objects: make(map[string]object)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Config returns an r2client.Config pointing at the server.
func (s *Server) Config() r2client.Config {
	return r2client.Config{
		Endpoint:    s.URL,
		AccessKeyID: "test-access-key",
		SecretKey:   "test-secret-key",
		BucketName:  s.Bucket,
	}
}

// Object returns the stored bytes of key.
func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o.data, ok
}

// Keys returns the number of stored objects.
func (s *Server) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Put stores data under key directly, bypassing the HTTP API.
func (s *Server) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := md5.Sum(data)
	s.objects[key] = object{data: data, etag: hex.EncodeToString(sum[:]), meta: map[string]string{}}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSuffix(r.URL.Path, "/") == "/"+s.Bucket && r.Method == http.MethodGet {
		s.list(w, r.URL.Query().Get("prefix"))
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/"+s.Bucket+"/")
	if !ok || key == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[key]
	switch r.Method {
	case http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" && exists {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		if match := r.Header.Get("If-Match"); match != "" && (!exists || strings.Trim(match, `"`) != current.etag) {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		sum := md5.Sum(data)
		o := object{
			data:        data,
			etag:        hex.EncodeToString(sum[:]),
			contentType: r.Header.Get("Content-Type"),
			meta:        make(map[string]string),
		}
		for name, values := range r.Header {
			if strings.HasPrefix(name, metaPrefix) && len(values) > 0 {
				o.meta[strings.ToLower(name[len(metaPrefix):])] = values[0]
			}
		}
		s.objects[key] = o
		w.Header().Set("ETag", `"`+o.etag+`"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet, http.MethodHead:
		if !exists {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("ETag", `"`+current.etag+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(current.data)))
		if current.contentType != "" {
			w.Header().Set("Content-Type", current.contentType)
		}
		for k, v := range current.meta {
			w.Header().Set(metaPrefix+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(current.data)
		}

	case http.MethodDelete:
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

type listResult struct {
	XMLName     xml.Name      `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key  string `xml:"Key"`
	ETag string `xml:"ETag"`
	Size int    `xml:"Size"`
}

func (s *Server) list(w http.ResponseWriter, prefix string) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	res := listResult{Name: s.Bucket, Prefix: prefix, KeyCount: len(keys), MaxKeys: 1000}
	for _, k := range keys {
		o := s.objects[k]
		res.Contents = append(res.Contents, listContent{Key: k, ETag: `"` + o.etag + `"`, Size: len(o.data)})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}
