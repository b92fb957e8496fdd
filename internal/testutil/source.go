package testutil

import (
	"context"
)

// MemSource serves an in-memory archive through FetchRange and records the
// start offset of every requested window.
type MemSource struct {
	Data []byte
	// Location is reported by URL. Defaults to mem://archive.tar.
	Location string
	// Err is returned by every fetch when set.
	Err error
	// SizeFunc overrides the reported total for the n-th fetch (1-based).
	SizeFunc func(n int) int64

	starts []int64
}

// NewMemSource returns a source backed by the provided data.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{Data: data}
}

// FetchRange returns data[start:end+1], clipped to the archive length.
// Windows starting past the end are empty.
func (m *MemSource) FetchRange(_ context.Context, start, end int64) ([]byte, int64, error) {
	m.starts = append(m.starts, start)
	if m.Err != nil {
		return nil, 0, m.Err
	}
	total := m.Size()
	if m.SizeFunc != nil {
		total = m.SizeFunc(len(m.starts))
	}
	if start >= int64(len(m.Data)) {
		return nil, total, nil
	}
	end = min(end, int64(len(m.Data))-1)
	return append([]byte(nil), m.Data[start:end+1]...), total, nil
}

// URL returns the location reported to the indexer.
func (m *MemSource) URL() string {
	if m.Location == "" {
		return "mem://archive.tar"
	}
	return m.Location
}

// Size returns the total size of the backing data.
func (m *MemSource) Size() int64 {
	return int64(len(m.Data))
}

// Starts returns the start offsets of all fetches so far.
func (m *MemSource) Starts() []int64 {
	return append([]int64(nil), m.starts...)
}
