// Package http fetches byte windows of a remote resource via HTTP range requests.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts is the number of requests made for one window before giving up.
const DefaultMaxAttempts = 5

// maxDrain caps how much of an unread body is discarded before closing.
const maxDrain = 64 << 10

// DefaultTimeout bounds a single request, including reading the body.
const DefaultTimeout = 60 * time.Second

// ErrRetriesExhausted is returned when every attempt for a window failed.
var ErrRetriesExhausted = errors.New("range request retries exhausted")

// StatusError is returned for responses that are neither 200 nor 206.
// It is not retried.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("range request %s: %s", e.URL, e.Status)
}

// Source fetches byte ranges of a remote resource.
// A Source is not safe for concurrent use.
type Source struct {
	url         string
	client      *nethttp.Client
	headers     nethttp.Header
	maxAttempts int
	timeout     time.Duration
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
// The client's own Timeout takes precedence over WithTimeout.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithMaxAttempts sets how many requests are made for one window.
// Values < 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(s *Source) {
		s.maxAttempts = n
	}
}

// WithTimeout bounds each request. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.timeout = d
	}
}

// WithBackOff sets the delay policy between attempts.
// newBackOff is called once per window.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Source) {
		s.newBackOff = newBackOff
	}
}

// WithLogger sets the logger used to report retried attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource creates a Source for url. No request is made until FetchRange.
func NewSource(url string, opts ...Option) *Source {
	s := &Source{
		url:         url,
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &nethttp.Client{Timeout: s.timeout}
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.newBackOff == nil {
		s.newBackOff = defaultBackOff
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	return b
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// URL returns the URL requests are sent to. After a successful fetch this is
// the redirect target of the previous request.
func (s *Source) URL() string {
	return s.url
}

// FetchRange returns the bytes in [start, end] and the total size of the
// resource reported by the server. The window may be shorter than requested
// when it extends past the end of the resource.
//
// A 416 response carrying "Content-Range: bytes */<total>" and an empty 200
// response without Content-Range both yield an empty window.
//
// Transient failures are retried up to the configured number of attempts.
// Any other status than 200 or 206 fails immediately with a *StatusError.
func (s *Source) FetchRange(ctx context.Context, start, end int64) ([]byte, int64, error) {
	if start < 0 || end < start {
		return nil, 0, fmt.Errorf("fetch range %d-%d: invalid range", start, end)
	}

	attempt := 0
	w, err := backoff.Retry(ctx, func() (window, error) {
		attempt++
		return s.fetchOnce(ctx, start, end)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log().Warn("range request failed, retrying",
				"url", s.url, "start", start, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, 0, statusErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}

	s.url = w.url
	return w.data, w.total, nil
}

type window struct {
	data  []byte
	total int64
	url   string
}

func (s *Source) fetchOnce(ctx context.Context, start, end int64) (window, error) {
	req, err := s.newRequest(ctx)
	if err != nil {
		return window{}, backoff.Permanent(err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := s.client.Do(req)
	if err != nil {
		return window{}, err
	}
	defer func() {
		// A server that ignored the range may be sending the whole archive.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		_ = resp.Body.Close()
	}()

	resolved := s.url
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}

	switch resp.StatusCode {
	case nethttp.StatusOK, nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Servers answer this way for ranges past the end, including any
		// range on an empty resource.
		total, err := parseUnsatisfiedRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return window{}, backoff.Permanent(&StatusError{URL: resolved, StatusCode: resp.StatusCode, Status: resp.Status})
		}
		return window{total: total, url: resolved}, nil
	default:
		return window{}, backoff.Permanent(&StatusError{URL: resolved, StatusCode: resp.StatusCode, Status: resp.Status})
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		// Empty resources are served whole, without a range.
		if resp.StatusCode == nethttp.StatusOK && resp.ContentLength == 0 {
			return window{url: resolved}, nil
		}
		return window{}, errors.New("response missing Content-Range")
	}
	first, last, total, err := parseContentRange(crange)
	if err != nil {
		return window{}, err
	}
	if first != start {
		return window{}, fmt.Errorf("range response %q does not start at %d", crange, start)
	}

	want := min(last, end) - start + 1
	data := make([]byte, want)
	n, err := io.ReadFull(resp.Body, data)
	if err != nil {
		return window{}, fmt.Errorf("read range body: %d of %d bytes: %w", n, want, err)
	}
	return window{data: data, total: total, url: resolved}, nil
}

func (s *Source) newRequest(ctx context.Context) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// parseContentRange parses "bytes <first>-<last>/<total>".
func parseContentRange(value string) (first, last, total int64, err error) {
	invalid := fmt.Errorf("invalid Content-Range %q", value)

	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, 0, 0, invalid
	}
	span, size, ok := strings.Cut(strings.TrimPrefix(value, "bytes "), "/")
	if !ok || size == "*" {
		return 0, 0, 0, invalid
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil || total < 0 {
		return 0, 0, 0, invalid
	}
	lo, hi, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, invalid
	}
	first, err = strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, 0, invalid
	}
	last, err = strconv.ParseInt(hi, 10, 64)
	if err != nil || last < first || last >= total {
		return 0, 0, 0, invalid
	}
	return first, last, total, nil
}

// parseUnsatisfiedRange parses the "bytes */<total>" form sent with 416.
func parseUnsatisfiedRange(value string) (int64, error) {
	size, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes */")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	total, err := strconv.ParseInt(size, 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return total, nil
}
