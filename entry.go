package tarindex

import "github.com/meigma/tarindex/internal/header"

// BlockSize is the size of a tar header block.
const BlockSize = header.BlockSize

// BatchBlocks is the number of header-sized blocks fetched per request.
const BatchBlocks = 10

// Entry is one archive member as described by its header block.
// Entries are values and are never modified after being returned.
type Entry struct {
	Name string

	// Type is the tar typeflag, e.g. tar.TypeReg or tar.TypeDir.
	Type byte

	// Offset is the absolute position of the header block.
	Offset int64

	// DataOffset is the absolute position of the payload (Offset + BlockSize).
	DataOffset int64

	// Size is the payload length in bytes.
	Size int64
}

func entryFromHeader(h header.Header) Entry {
	return Entry{
		Name:       h.Name,
		Type:       h.Type,
		Offset:     h.Offset,
		DataOffset: h.DataOffset,
		Size:       h.Size,
	}
}

// IsRegular reports whether the entry is a regular file.
func (e Entry) IsRegular() bool {
	return header.IsRegular(e.Type)
}

// Span returns the bytes the entry occupies in the archive: its header
// block plus the payload padded to BlockSize.
func (e Entry) Span() int64 {
	return header.Span(e.Size)
}

// Range returns the inclusive byte interval of the payload.
// For empty files the end is DataOffset-1.
func (e Entry) Range() [2]int64 {
	return [2]int64{e.DataOffset, e.DataOffset + e.Size - 1}
}
