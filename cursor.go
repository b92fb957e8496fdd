package tarindex

import (
	"math"

	"github.com/meigma/tarindex/internal/header"
)

// Cursor is the scan position within an archive.
//
// Cursor is a value: Advance returns the next cursor and leaves the
// receiver untouched.
type Cursor struct {
	// Pos is the offset of the next header block to decode.
	Pos int64

	// Done is set once the scan has ended, either at an end-of-archive
	// marker or because no complete header block can follow Pos.
	Done bool

	// Total is the archive size reported by the most recent fetch.
	Total int64

	// SizeKnown is set once any fetch has reported Total.
	SizeKnown bool
}

// Window returns the inclusive byte range of the next batch to fetch.
func (c Cursor) Window() (start, end int64) {
	return c.Pos, c.Pos + BatchBlocks*BlockSize - 1
}

// BytesRead reports scan progress: the cursor position while scanning and
// the archive size once the scan has ended.
func (c Cursor) BytesRead() int64 {
	if c.Done {
		return c.Total
	}
	return c.Pos
}

// Advance consumes window, which must hold the bytes starting at c.Pos, and
// returns the cursor after the last decoded header together with the
// decoded entries. total is the archive size reported with window and
// replaces any previously learned size.
func (c Cursor) Advance(window []byte, total int64) (Cursor, []Entry) {
	if c.Done {
		return c, nil
	}
	c.Total = total
	c.SizeKnown = true

	var entries []Entry
	for off := int64(0); off <= int64(len(window))-BlockSize; {
		h, ok := header.Decode(window[off:off+BlockSize], c.Pos)
		if !ok {
			c.Done = true
			return c, entries
		}
		span := h.Span()
		if span > math.MaxInt64-c.Pos {
			c.Done = true
			return c, entries
		}
		off += span
		c.Pos += span
		entries = append(entries, entryFromHeader(h))
	}

	// A window without a complete header cannot move the cursor.
	if len(entries) == 0 || c.Total-c.Pos < BlockSize {
		c.Done = true
	}
	return c, entries
}
