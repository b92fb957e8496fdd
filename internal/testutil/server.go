package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// RangeServer serves a byte slice with range support and can be told to
// fail requests.
type RangeServer struct {
	*httptest.Server

	mu       sync.Mutex
	data     []byte
	failures map[string]int // remaining failures per Range header ("" = any)
	status   int            // forced status for every request, 0 = none
	garble   int            // remaining responses sent without Content-Range
	requests []string
}

// NoReuseClient returns a client that opens a new connection per request.
// Dropped connections then surface as errors instead of being retried
// transparently by the transport.
func NoReuseClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

// NewRangeServer starts a server for data. It is closed with tb.Cleanup.
func NewRangeServer(tb testing.TB, data []byte) *RangeServer {
	tb.Helper()

	s := &RangeServer{data: data, failures: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/archive.tar", s.serve)
	mux.HandleFunc("/moved.tar", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, "redirect "+r.Header.Get("Range"))
		s.mu.Unlock()
		http.Redirect(w, r, "/archive.tar", http.StatusFound)
	})
	s.Server = httptest.NewServer(mux)
	tb.Cleanup(s.Close)
	return s
}

// ArchiveURL returns the URL serving the data directly.
func (s *RangeServer) ArchiveURL() string {
	return s.URL + "/archive.tar"
}

// RedirectURL returns a URL that redirects to ArchiveURL.
func (s *RangeServer) RedirectURL() string {
	return s.URL + "/moved.tar"
}

// FailNext makes the next n requests fail by hijacking and dropping the
// connection. An empty rangeHeader matches any request.
func (s *RangeServer) FailNext(rangeHeader string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[rangeHeader] += n
}

// GarbleNext makes the next n requests answer 200 with the full body and no
// Content-Range, as a server ignoring the range would.
func (s *RangeServer) GarbleNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garble += n
}

// ForceStatus makes every request answer with status.
func (s *RangeServer) ForceStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Requests returns the Range headers received, in order.
func (s *RangeServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	rng := r.Header.Get("Range")

	s.mu.Lock()
	s.requests = append(s.requests, rng)
	status := s.status
	garble := s.garble > 0
	if garble {
		s.garble--
	}
	fail := false
	for _, key := range []string{rng, ""} {
		if s.failures[key] > 0 {
			s.failures[key]--
			fail = true
			break
		}
	}
	s.mu.Unlock()

	if fail {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if garble {
		_, _ = w.Write(s.data)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	http.ServeContent(w, r, "archive.tar", time.Time{}, bytes.NewReader(s.data))
}
