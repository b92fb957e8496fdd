// Package disk persists manifests as compressed files on the local filesystem.
//
// Each manifest is stored under the digest of its archive URL, e.g.
// <dir>/<hex digest>.json.gz, which is the artifact layout an upload step
// can pick up directly.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/tarindex"
)

const (
	defaultShardPrefixLen = 0
	defaultDirPerm        = 0o750
	defaultFilePerm       = 0o644
)

// Compression selects the file encoding of stored manifests.
type Compression uint8

const (
	CompressionGzip Compression = iota
	CompressionZstd
	CompressionNone
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Ext returns the file name suffix for manifests in this encoding.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".json.zst"
	case CompressionNone:
		return ".json"
	default:
		return ".json.gz"
	}
}

// ParseCompression parses the names returned by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// Store keeps manifests in a directory, keyed by archive URL.
// Writes are atomic; concurrent Puts of the same URL leave one complete file.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	algorithm      digest.Algorithm
	compression    Compression
}

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen stores files in subdirectories named after the first n
// hex characters of the key. Defaults to 0 (no sharding).
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithAlgorithm sets the digest algorithm used to derive keys. Defaults to sha256.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(s *Store) {
		s.algorithm = alg
	}
}

// WithCompression sets the file encoding. Defaults to gzip.
func WithCompression(c Compression) Option {
	return func(s *Store) {
		s.compression = c
	}
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		algorithm:      digest.SHA256,
		compression:    CompressionGzip,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if !s.algorithm.Available() {
		return nil, fmt.Errorf("digest algorithm %q unavailable", s.algorithm)
	}
	if s.compression > CompressionNone {
		return nil, fmt.Errorf("unknown compression %d", s.compression)
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the digest identifying url in the store.
func (s *Store) Key(url string) digest.Digest {
	return s.algorithm.FromString(url)
}

// Path returns the file a manifest for url is stored at.
func (s *Store) Path(url string) string {
	hexKey := s.Key(url).Encoded()
	name := hexKey + s.compression.Ext()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, name)
	}
	prefixLen := min(s.shardPrefixLen, len(hexKey))
	return filepath.Join(s.dir, hexKey[:prefixLen], name)
}

// Put writes m under url, replacing any previous manifest, and returns the
// path written. url is the location the archive was requested from, which
// may differ from m.URL after a redirect.
func (s *Store) Put(url string, m *tarindex.Manifest) (string, error) {
	path := s.Path(url)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "manifest-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	if err := s.encode(tmp, m); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write manifest %s: %w", url, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return path, nil
}

// Get reads the manifest stored for url. It returns false if none exists.
func (s *Store) Get(url string) (*tarindex.Manifest, bool, error) {
	f, err := os.Open(s.Path(url))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	m, err := s.decode(f)
	if err != nil {
		return nil, false, fmt.Errorf("read manifest %s: %w", url, err)
	}
	return m, true, nil
}

// Delete removes the manifest stored for url. Missing entries are a no-op.
func (s *Store) Delete(url string) error {
	if err := os.Remove(s.Path(url)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) encode(w io.Writer, m *tarindex.Manifest) error {
	switch s.compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := m.Encode(zw); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	case CompressionNone:
		return m.Encode(w)
	default:
		gw := gzip.NewWriter(w)
		if err := m.Encode(gw); err != nil {
			gw.Close()
			return err
		}
		return gw.Close()
	}
}

func (s *Store) decode(r io.Reader) (*tarindex.Manifest, error) {
	switch s.compression {
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return tarindex.DecodeManifest(zr)
	case CompressionNone:
		return tarindex.DecodeManifest(r)
	default:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return tarindex.DecodeManifest(gr)
	}
}
