package tarindex

import (
	"encoding/json"
	"fmt"
	"io"
)

// Manifest describes the regular files of an archive and where their
// payloads live. Field order is part of the document format.
type Manifest struct {
	URL   string `json:"url"`
	Size  int64  `json:"size"`
	Files []File `json:"files"`
}

// File is one regular file of a Manifest.
type File struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`

	// Range is the inclusive payload interval [Offset+512, Offset+512+Size-1].
	Range [2]int64 `json:"range"`
}

// NewManifest builds the manifest for an archive at url of the given size.
// Only regular files are kept; their order is preserved.
func NewManifest(url string, size int64, entries []Entry) *Manifest {
	m := &Manifest{
		URL:   url,
		Size:  size,
		Files: make([]File, 0, len(entries)),
	}
	for _, e := range entries {
		if !e.IsRegular() {
			continue
		}
		m.Files = append(m.Files, File{
			Name:   e.Name,
			Offset: e.Offset,
			Size:   e.Size,
			Range:  e.Range(),
		})
	}
	return m
}

// Encode writes m as a single line of JSON.
func (m *Manifest) Encode(w io.Writer) error {
	out := *m
	if out.Files == nil {
		out.Files = []File{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(&out)
}

// DecodeManifest reads and validates a manifest document.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.Files == nil {
		m.Files = []File{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every file's range matches its offset and size and
// that offsets increase.
func (m *Manifest) Validate() error {
	prev := int64(-1)
	for i, f := range m.Files {
		if f.Offset <= prev {
			return fmt.Errorf("%w: file %d (%q) offset %d not after %d", ErrInvalidManifest, i, f.Name, f.Offset, prev)
		}
		if f.Size < 0 {
			return fmt.Errorf("%w: file %d (%q) has negative size", ErrInvalidManifest, i, f.Name)
		}
		data := f.Offset + BlockSize
		if want := [2]int64{data, data + f.Size - 1}; f.Range != want {
			return fmt.Errorf("%w: file %d (%q) range %v, want %v", ErrInvalidManifest, i, f.Name, f.Range, want)
		}
		prev = f.Offset
	}
	return nil
}
