package testutil

import (
	"archive/tar"
	"bytes"
	"testing"
)

// ArchiveEntry describes one entry of a synthetic archive.
type ArchiveEntry struct {
	Name string
	Type byte // defaults to tar.TypeReg
	Size int64
}

// BuildArchive writes entries into an in-memory tar archive, including the
// two-block terminator. File payloads are filled with a repeating byte.
func BuildArchive(tb testing.TB, entries ...ArchiveEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i, e := range entries {
		typ := e.Type
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: typ,
			Mode:     0o644,
			Format:   tar.FormatUSTAR,
		}
		switch typ {
		case tar.TypeDir:
			hdr.Mode = 0o755
		case tar.TypeSymlink:
			hdr.Linkname = "target"
		default:
			hdr.Size = e.Size
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("write header %q: %v", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(bytes.Repeat([]byte{byte('a' + i%26)}, int(hdr.Size))); err != nil {
				tb.Fatalf("write body %q: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}
