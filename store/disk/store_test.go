package disk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarindex"
)

func testManifest(url string) *tarindex.Manifest {
	return &tarindex.Manifest{
		URL:  url,
		Size: 13312,
		Files: []tarindex.File{
			{Name: "a.txt", Offset: 0, Size: 3000, Range: [2]int64{512, 3511}},
			{Name: "b.bin", Offset: 3584, Size: 7000, Range: [2]int64{4096, 11095}},
		},
	}
}

func TestStorePutGet(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZstd, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			s, err := New(t.TempDir(), WithCompression(c))
			require.NoError(t, err)

			m := testManifest("http://example.com/archive.tar")
			path, err := s.Put(m.URL, m)
			require.NoError(t, err)
			assert.Equal(t, s.Path(m.URL), path)
			assert.True(t, strings.HasSuffix(path, c.Ext()))

			got, ok, err := s.Get(m.URL)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, m, got)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	m, ok, err := s.Get("http://example.com/none.tar")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestStorePathUsesURLDigest(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	url := "http://example.com/archive.tar"
	want := filepath.Join(dir, digest.FromString(url).Encoded()+".json.gz")
	assert.Equal(t, want, s.Path(url))
	assert.Equal(t, digest.FromString(url), s.Key(url))
}

func TestStoreSharding(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, WithShardPrefixLen(2))
	require.NoError(t, err)

	m := testManifest("http://example.com/sharded.tar")
	path, err := s.Put(m.URL, m)
	require.NoError(t, err)

	hexKey := digest.FromString(m.URL).Encoded()
	assert.Equal(t, filepath.Join(dir, hexKey[:2], hexKey+".json.gz"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestStorePutIsReadableGzip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	m := testManifest("http://example.com/archive.tar")
	path, err := s.Put(m.URL, m)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	got, err := tarindex.DecodeManifest(gr)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestStorePutReplaces(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	m := testManifest("http://example.com/archive.tar")
	_, err = s.Put(m.URL, m)
	require.NoError(t, err)

	m.Files = m.Files[:1]
	_, err = s.Put(m.URL, m)
	require.NoError(t, err)

	got, ok, err := s.Get(m.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Files, 1)

	entries, err := os.ReadDir(filepath.Dir(s.Path(m.URL)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")
}

func TestStoreDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	m := testManifest("http://example.com/archive.tar")
	_, err = s.Put(m.URL, m)
	require.NoError(t, err)

	require.NoError(t, s.Delete(m.URL))
	_, ok, err := s.Get(m.URL)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(m.URL))
}

func TestStoreCorruptFile(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	url := "http://example.com/archive.tar"
	require.NoError(t, os.WriteFile(s.Path(url), []byte("not gzip"), 0o600))

	_, ok, err := s.Get(url)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestNewValidation(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)

	_, err = New(t.TempDir(), WithCompression(Compression(42)))
	require.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZstd, CompressionNone} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	require.Error(t, err)
}

func TestStorePutKeyedByRequestedURL(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	m := testManifest("http://mirror.example.com/archive.tar")
	_, err = s.Put("http://example.com/archive.tar", m)
	require.NoError(t, err)

	got, ok, err := s.Get("http://example.com/archive.tar")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.URL, got.URL)

	_, ok, err = s.Get(m.URL)
	require.NoError(t, err)
	assert.False(t, ok)
}
