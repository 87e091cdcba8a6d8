package symbolizer

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tracekit/symbolicate/pkg/breakpad"
)

const notFoundCacheSize = 4096

// Resolver deduplicates symbol resolution across the stack frames of one
// symbolication run. The first caller for a module key creates the entry
// and performs the cache/fetch/parse work; every later caller awaits the
// same entry, so at most one fetch per module is ever in flight. The table
// is the single source of truth for in-flight work — filesystem presence is
// never consulted for dedup decisions.
type Resolver struct {
	logger       log.Logger
	cache        *SymbolCache
	metrics      *metrics
	forceRefresh bool

	mu       sync.Mutex
	modules  map[string]*resolution
	notFound *lru.Cache[string, struct{}]
}

// resolution is the shared handle every caller for one module awaits.
// done is closed exactly once, after symbols and err are set.
type resolution struct {
	done    chan struct{}
	symbols *breakpad.SymbolFile // nil when no source had the module
	err     error
}

func NewResolver(logger log.Logger, cache *SymbolCache, metrics *metrics, forceRefresh bool) *Resolver {
	notFound, _ := lru.New[string, struct{}](notFoundCacheSize)
	return &Resolver{
		logger:       logger,
		cache:        cache,
		metrics:      metrics,
		forceRefresh: forceRefresh,
		modules:      make(map[string]*resolution),
		notFound:     notFound,
	}
}

// Resolve returns the symbol file for a module, or nil when no configured
// source has it. A fatal transport error is returned to every caller
// awaiting the module.
func (r *Resolver) Resolve(ctx context.Context, mod ModuleRef) (*breakpad.SymbolFile, error) {
	key := mod.key()

	if _, ok := r.notFound.Get(key); ok {
		return nil, nil
	}

	r.mu.Lock()
	res, ok := r.modules[key]
	if !ok {
		res = &resolution{done: make(chan struct{})}
		r.modules[key] = res
		r.mu.Unlock()

		res.symbols, res.err = r.resolve(ctx, mod)
		close(res.done)
		return res.symbols, res.err
	}
	r.mu.Unlock()

	select {
	case <-res.done:
		return res.symbols, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, mod ModuleRef) (*breakpad.SymbolFile, error) {
	sf, found, err := r.cache.Get(ctx, mod, r.forceRefresh)
	if err != nil {
		return nil, err
	}
	if !found {
		level.Debug(r.logger).Log("msg", "symbols not found at any source",
			"module", mod.PDBBaseName, "debug_id", mod.DebugID)
		r.notFound.Add(mod.key(), struct{}{})
		return nil, nil
	}
	return sf, nil
}
