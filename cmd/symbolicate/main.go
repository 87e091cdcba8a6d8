package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tracekit/symbolicate/pkg/symbolizer"
)

var cfg struct {
	verbose      bool
	input        string
	output       string
	serverURLs   []string
	cacheDir     string
	forceRefresh bool
	concurrency  int
}

var logger = log.NewLogfmtLogger(os.Stderr)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Resolve native stack frames in trace files using Breakpad symbol servers.").UsageWriter(os.Stdout)
	app.Version(version.Print("symbolicate"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("symbol-server", "Symbol-server base URL, tried in the order given. May be repeated.").
		Default(
			"https://chromium-browser-symsrv.commondatastorage.googleapis.com",
			"https://symbols.mozilla.org",
		).StringsVar(&cfg.serverURLs)
	app.Flag("cache-dir", "Directory for the local symbol cache. Defaults to the user cache directory.").StringVar(&cfg.cacheDir)
	app.Flag("force-refresh", "Refetch symbol files even when cached.").Default("false").BoolVar(&cfg.forceRefresh)
	app.Flag("concurrency", "Maximum number of stack frames symbolicated concurrently.").Default("10").IntVar(&cfg.concurrency)
	app.Flag("output", "Write the symbolicated trace to this file instead of stdout.").Short('o').StringVar(&cfg.output)
	app.Arg("trace", "Trace file to symbolicate.").Required().ExistingFileVar(&cfg.input)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	if err := run(context.Background()); err != nil {
		level.Error(logger).Log("msg", "symbolication failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cacheDir := cfg.cacheDir
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("determine cache directory: %w", err)
		}
		cacheDir = filepath.Join(base, "symbolicate")
	}

	s, err := symbolizer.New(logger, symbolizer.Config{
		ServerURLs:     cfg.serverURLs,
		CacheDir:       cacheDir,
		MaxConcurrency: cfg.concurrency,
		ForceRefresh:   cfg.forceRefresh,
	}, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.input)
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	out, err := s.SymbolicateTrace(ctx, data)
	if err != nil {
		return err
	}

	// The output is written only after the whole trace symbolicated, so a
	// fatal failure never leaves a partial file.
	if cfg.output == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(cfg.output, out, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}
