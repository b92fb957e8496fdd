package tarindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

// RangeFetcher fetches byte windows of a remote archive.
//
// FetchRange returns the bytes in [start, end], which may be fewer than
// requested at the end of the resource, and the total resource size
// reported by the server. URL returns the location requests currently go
// to, after any redirect.
type RangeFetcher interface {
	FetchRange(ctx context.Context, start, end int64) ([]byte, int64, error)
	URL() string
}

// ProgressFunc receives scan progress after each batch.
// read never decreases and equals total once the scan has ended.
type ProgressFunc func(read, total int64)

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// WithProgress registers fn to be called after every fetched batch.
func WithProgress(fn ProgressFunc) Option {
	return func(ix *Indexer) {
		ix.progress = fn
	}
}

// Indexer lists the entries of a remote tar archive by fetching only
// header blocks.
//
// Each call to Next performs at most one fetch. The sequence is forward
// only; index the archive again with a new Indexer. An Indexer is not safe
// for concurrent use.
type Indexer struct {
	src      RangeFetcher
	cursor   Cursor
	err      error
	logger   *slog.Logger
	progress ProgressFunc
}

// New returns an Indexer positioned at the start of the archive.
func New(src RangeFetcher, opts ...Option) *Indexer {
	ix := &Indexer{src: src}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// log returns the logger, falling back to a discard logger if nil.
func (ix *Indexer) log() *slog.Logger {
	if ix.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return ix.logger
}

// Next fetches the next batch of header blocks and returns the entries
// decoded from it, in archive order. Entries of every type are returned;
// use Entry.IsRegular to select files.
//
// Next returns io.EOF once the scan has ended. A fetch error is wrapped
// with ErrFetch and returned by this and every later call.
func (ix *Indexer) Next(ctx context.Context) ([]Entry, error) {
	if ix.err != nil {
		return nil, ix.err
	}
	if ix.cursor.Done {
		return nil, io.EOF
	}

	start, end := ix.cursor.Window()
	window, total, err := ix.src.FetchRange(ctx, start, end)
	if err != nil {
		ix.err = fmt.Errorf("%w: %s at %d: %w", ErrFetch, ix.src.URL(), start, err)
		return nil, ix.err
	}
	if ix.cursor.SizeKnown && total != ix.cursor.Total {
		ix.log().Warn("archive size changed during scan",
			"url", ix.src.URL(), "previous", ix.cursor.Total, "reported", total)
	}

	var entries []Entry
	ix.cursor, entries = ix.cursor.Advance(window, total)
	ix.log().Debug("fetched header batch",
		"start", start, "bytes", len(window), "entries", len(entries), "pos", ix.cursor.Pos)
	if ix.cursor.Done {
		ix.log().Debug("scan finished", "pos", ix.cursor.Pos, "size", ix.cursor.Total)
	}
	if ix.progress != nil {
		ix.progress(ix.cursor.BytesRead(), ix.cursor.Total)
	}
	return entries, nil
}

// Entries returns the remaining entries as a lazy sequence. Iteration stops
// after the last entry or at the first error, which is yielded with a zero
// Entry.
func (ix *Indexer) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			batch, err := ix.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// Cursor returns the current scan state.
func (ix *Indexer) Cursor() Cursor {
	return ix.cursor
}

// BytesRead returns the scan progress in bytes. See Cursor.BytesRead.
func (ix *Indexer) BytesRead() int64 {
	return ix.cursor.BytesRead()
}

// Size returns the archive size learned from the most recent fetch, or 0
// before the first fetch.
func (ix *Indexer) Size() int64 {
	return ix.cursor.Total
}

// Done reports whether the scan has ended without error.
func (ix *Indexer) Done() bool {
	return ix.cursor.Done
}

// URL returns the archive location, resolved through redirects once a
// fetch has succeeded.
func (ix *Indexer) URL() string {
	return ix.src.URL()
}

// Index scans the whole archive behind src and builds its manifest.
// On a fetch error no manifest is returned.
func Index(ctx context.Context, src RangeFetcher, opts ...Option) (*Manifest, error) {
	ix := New(src, opts...)
	var entries []Entry
	for e, err := range ix.Entries(ctx) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return NewManifest(ix.URL(), ix.Size(), entries), nil
}
