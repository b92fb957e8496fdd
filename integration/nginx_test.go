//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/tarindex"
	tihttp "github.com/meigma/tarindex/http"
	"github.com/meigma/tarindex/internal/testutil"
)

const archivePath = "/usr/share/nginx/html/archive.tar"

var (
	nginxOnce sync.Once
	nginxAddr string
	nginxErr  error
	archive   []byte
)

// getNginx returns the address of a shared nginx container serving the
// test archive, starting it if needed.
func getNginx(tb testing.TB) (string, []byte) {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	nginxOnce.Do(func() {
		archive = testutil.BuildArchive(tb,
			testutil.ArchiveEntry{Name: "site/", Type: '5'},
			testutil.ArchiveEntry{Name: "site/index.html", Size: 4000},
			testutil.ArchiveEntry{Name: "site/big.warc.gz", Size: 1 << 20},
			testutil.ArchiveEntry{Name: "site/small.txt", Size: 7},
		)
		nginxAddr, nginxErr = startNginxContainer(context.Background(), archive)
	})

	if nginxErr != nil {
		tb.Fatalf("start nginx container: %v", nginxErr)
	}
	return nginxAddr, archive
}

func startNginxContainer(ctx context.Context, data []byte) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		Files: []testcontainers.ContainerFile{{
			Reader:            bytes.NewReader(data),
			ContainerFilePath: archivePath,
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForHTTP("/archive.tar").WithPort("80/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start nginx container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve nginx host: %w", err)
	}
	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve nginx port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func TestIndexFromNginx(t *testing.T) {
	addr, data := getNginx(t)
	url := "http://" + addr + "/archive.tar"

	var reads []int64
	m, err := tarindex.Index(context.Background(), tihttp.NewSource(url),
		tarindex.WithProgress(func(read, _ int64) { reads = append(reads, read) }))
	require.NoError(t, err)

	assert.Equal(t, url, m.URL)
	assert.Equal(t, int64(len(data)), m.Size)
	require.Len(t, m.Files, 3)
	assert.Equal(t, "site/index.html", m.Files[0].Name)
	assert.Equal(t, "site/big.warc.gz", m.Files[1].Name)
	assert.Equal(t, "site/small.txt", m.Files[2].Name)
	require.NoError(t, m.Validate())

	// Each range must point at the payload bytes in the served archive.
	for _, f := range m.Files {
		first := data[f.Range[0]]
		last := data[f.Range[1]]
		assert.Equal(t, first, last, f.Name)
	}
	require.NotEmpty(t, reads)
	assert.Equal(t, int64(len(data)), reads[len(reads)-1])
}

func TestIndexFromNginxMissing(t *testing.T) {
	addr, _ := getNginx(t)

	_, err := tarindex.Index(context.Background(), tihttp.NewSource("http://"+addr+"/missing.tar"))
	require.ErrorIs(t, err, tarindex.ErrFetch)
	var statusErr *tihttp.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.StatusCode)
}
