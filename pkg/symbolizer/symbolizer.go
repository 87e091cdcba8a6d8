package symbolizer

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Stack-frame grammar: 0x<offset hex> - <module name> [<debug id, uppercase hex>]
// Anything else passes through the symbolizer unchanged.
var frameRegexp = regexp.MustCompile(`^0x([0-9a-fA-F]+) - (.+) \[([0-9A-F]+)\]$`)

type Config struct {
	ServerURLs     flagext.StringSliceCSV `yaml:"server_urls"`
	CacheDir       string                 `yaml:"cache_dir"`
	MaxConcurrency int                    `yaml:"max_concurrency" category:"advanced"`
	ForceRefresh   bool                   `yaml:"force_refresh"`
	UserAgent      string                 `yaml:"user_agent" category:"advanced"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.ServerURLs = []string{
		"https://chromium-browser-symsrv.commondatastorage.googleapis.com",
		"https://symbols.mozilla.org",
	}
	f.Var(&cfg.ServerURLs, "symbolizer.server-urls", "Comma-separated list of symbol-server base URLs, tried in order.")
	f.StringVar(&cfg.CacheDir, "symbolizer.cache-dir", "", "Directory for the local symbol cache.")
	f.IntVar(&cfg.MaxConcurrency, "symbolizer.max-concurrency", 10, "Maximum number of stack frames symbolicated concurrently.")
	f.BoolVar(&cfg.ForceRefresh, "symbolizer.force-refresh", false, "Refetch symbol files even when cached.")
	f.StringVar(&cfg.UserAgent, "symbolizer.user-agent", "", "User-Agent header sent to symbol servers.")
}

func (cfg *Config) Validate() error {
	if len(cfg.ServerURLs) == 0 {
		return fmt.Errorf("at least one symbol server URL is required")
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("a symbol cache directory is required")
	}
	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("invalid max-concurrency value, must be positive")
	}
	return nil
}

// Symbolizer resolves raw native-code addresses in trace stack frames to
// function, file and line information using Breakpad symbol files.
type Symbolizer struct {
	logger   log.Logger
	resolver *Resolver
	metrics  *metrics
	cfg      Config
}

func New(logger log.Logger, cfg Config, reg prometheus.Registerer) (*Symbolizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := newMetrics(reg)

	client, err := NewServerClientWithConfig(logger, ServerClientConfig{
		ServerURLs:    cfg.ServerURLs,
		UserAgent:     cfg.UserAgent,
		BackoffConfig: defaultBackoffConfig,
	}, metrics)
	if err != nil {
		return nil, err
	}

	cache := NewSymbolCache(logger, cfg.CacheDir, client, metrics)
	resolver := NewResolver(logger, cache, metrics, cfg.ForceRefresh)

	return &Symbolizer{
		logger:   logger,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
	}, nil
}

// SymbolicateFrames rewrites one newline-joined stack-frame list. Frames
// are resolved concurrently but reassembled in their original order. A
// fatal transport failure aborts the whole list.
func (s *Symbolizer) SymbolicateFrames(ctx context.Context, frames string) (string, error) {
	lines := strings.Split(frames, "\n")
	out := make([]string, len(lines))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency())

	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			resolved, err := s.symbolicateFrame(ctx, line)
			if err != nil {
				return err
			}
			out[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.Join(out, "\n"), nil
}

// symbolicateFrame resolves a single frame. Frames that don't match the
// expected pattern, reference unknown modules, or fall outside all known
// address ranges are returned unchanged.
func (s *Symbolizer) symbolicateFrame(ctx context.Context, frame string) (string, error) {
	m := frameRegexp.FindStringSubmatch(frame)
	if m == nil {
		s.metrics.frameResolutions.WithLabelValues("passthrough").Inc()
		return frame, nil
	}

	offset, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		s.metrics.frameResolutions.WithLabelValues("passthrough").Inc()
		return frame, nil
	}

	mod, err := NewModuleRef(m[2], m[3])
	if err != nil {
		s.metrics.frameResolutions.WithLabelValues("passthrough").Inc()
		return frame, nil
	}

	symbols, err := s.resolver.Resolve(ctx, mod)
	if err != nil {
		return "", err
	}
	if symbols == nil {
		s.metrics.frameResolutions.WithLabelValues("unresolved").Inc()
		return frame, nil
	}

	res, ok := symbols.Lookup(offset)
	if !ok {
		s.metrics.frameResolutions.WithLabelValues("unresolved").Inc()
		return frame, nil
	}

	s.metrics.frameResolutions.WithLabelValues("resolved").Inc()
	if res.HasLine {
		return fmt.Sprintf("%s %s (%s:%d)", frame, res.FunctionName, res.File, res.Line), nil
	}
	return frame + " " + res.FunctionName, nil
}

func (s *Symbolizer) maxConcurrency() int {
	if s.cfg.MaxConcurrency > 0 {
		return s.cfg.MaxConcurrency
	}
	return 10
}
