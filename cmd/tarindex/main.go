// Command tarindex lists the files of a remote tar archive by fetching only
// its header blocks with HTTP range requests.
//
// Usage:
//
//	tarindex [flags] URL
//
// Progress is written to stderr as percentage lines. On success the
// manifest is written to stdout as one line of JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meigma/tarindex"
	tihttp "github.com/meigma/tarindex/http"
	"github.com/meigma/tarindex/store/disk"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

type config struct {
	url          string
	attempts     int
	timeout      time.Duration
	headers      headerFlag
	outDir       string
	compression  string
	skipExisting bool
	verbose      bool
	quiet        bool
}

// headerFlag collects repeated -header "Key: Value" flags.
type headerFlag []string

func (h *headerFlag) String() string { return strings.Join(*h, ", ") }

func (h *headerFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, ":")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("header %q: want \"Key: Value\"", v)
	}
	*h = append(*h, strings.TrimSpace(key)+": "+strings.TrimSpace(value))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("tarindex", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: tarindex [flags] URL")
		fs.PrintDefaults()
	}
	fs.IntVar(&cfg.attempts, "attempts", tihttp.DefaultMaxAttempts, "requests per batch before giving up")
	fs.DurationVar(&cfg.timeout, "timeout", tihttp.DefaultTimeout, "timeout for a single range request")
	fs.Var(&cfg.headers, "header", "extra request header \"Key: Value\" (repeatable)")
	fs.StringVar(&cfg.outDir, "out", "", "also store the manifest in this directory")
	fs.StringVar(&cfg.compression, "compression", "gzip", "stored manifest encoding: gzip, zstd or none")
	fs.BoolVar(&cfg.skipExisting, "skip-existing", false, "with -out, reuse a stored manifest instead of indexing")
	fs.BoolVar(&cfg.verbose, "v", false, "debug logging")
	fs.BoolVar(&cfg.quiet, "quiet", false, "do not report progress")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cfg, errors.New("expected exactly one URL")
	}
	cfg.url = fs.Arg(0)
	if cfg.skipExisting && cfg.outDir == "" {
		return cfg, errors.New("-skip-existing requires -out")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitUsage
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var store *disk.Store
	if cfg.outDir != "" {
		compression, err := disk.ParseCompression(cfg.compression)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		store, err = disk.New(cfg.outDir, disk.WithCompression(compression))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFail
		}
	}

	if store != nil && cfg.skipExisting {
		m, ok, err := store.Get(cfg.url)
		if err != nil {
			logger.Warn("ignoring unreadable stored manifest", "url", cfg.url, "error", err)
		}
		if ok {
			logger.Info("manifest already stored", "url", cfg.url, "path", store.Path(cfg.url))
			return emit(m, stdout, stderr)
		}
	}

	srcOpts := []tihttp.Option{
		tihttp.WithMaxAttempts(cfg.attempts),
		tihttp.WithTimeout(cfg.timeout),
		tihttp.WithLogger(logger),
	}
	for _, h := range cfg.headers {
		key, value, _ := strings.Cut(h, ": ")
		srcOpts = append(srcOpts, tihttp.WithHeader(key, value))
	}
	src := tihttp.NewSource(cfg.url, srcOpts...)

	ixOpts := []tarindex.Option{tarindex.WithLogger(logger)}
	if !cfg.quiet {
		ixOpts = append(ixOpts, tarindex.WithProgress(newProgress(stderr, cfg.url).update))
	}

	m, err := tarindex.Index(ctx, src, ixOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}

	if store != nil {
		path, err := store.Put(cfg.url, m)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFail
		}
		logger.Debug("manifest stored", "path", path)
	}
	return emit(m, stdout, stderr)
}

func emit(m *tarindex.Manifest, stdout, stderr io.Writer) int {
	if err := m.Encode(stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	return exitOK
}
