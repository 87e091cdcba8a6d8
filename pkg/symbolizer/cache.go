package symbolizer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tracekit/symbolicate/pkg/breakpad"
)

// stagingDir is the subtree under the cache root used for in-flight
// downloads. Files only move to their final path by rename, so an
// interrupted download never leaves a partial file where lookups trust it.
const stagingDir = "tmp"

// SymbolCache maps module references to parsed symbol files, backed by a
// local on-disk store laid out as
// <root>/<pdbBaseName>/<debugID>/<symbolFileName>. Misses are delegated to
// the fetcher; corrupt entries are deleted and refetched.
type SymbolCache struct {
	logger  log.Logger
	root    string
	fetcher SymbolFetcher
	metrics *metrics
}

func NewSymbolCache(logger log.Logger, root string, fetcher SymbolFetcher, metrics *metrics) *SymbolCache {
	return &SymbolCache{
		logger:  logger,
		root:    root,
		fetcher: fetcher,
		metrics: metrics,
	}
}

// Path returns the deterministic on-disk location for a module's symbols.
func (c *SymbolCache) Path(mod ModuleRef) string {
	return filepath.Join(c.root, mod.PDBBaseName, mod.DebugID, mod.SymbolFileName)
}

// Get returns the parsed symbol file for a module. found is false when no
// configured source had the module; err is a fatal transport or filesystem
// failure. A cached file that fails to parse is treated as corruption: its
// per-module subtree is deleted and the module refetched.
func (c *SymbolCache) Get(ctx context.Context, mod ModuleRef, forceRefresh bool) (sf *breakpad.SymbolFile, found bool, err error) {
	path := c.Path(mod)

	if !forceRefresh {
		if sf, ok := c.readCached(path, mod); ok {
			return sf, true, nil
		}
	}

	data, err := c.fetcher.FetchSymbols(ctx, mod)
	if err != nil {
		if isSymbolsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	sf, err = breakpad.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("parse fetched symbols for %s/%s: %w", mod.PDBBaseName, mod.DebugID, err)
	}
	c.metrics.skippedSymbolLines.Add(float64(sf.SkippedLines))

	if err := c.writeAtomic(path, data); err != nil {
		return nil, false, fmt.Errorf("store symbols for %s/%s: %w", mod.PDBBaseName, mod.DebugID, err)
	}
	c.metrics.cacheOperations.WithLabelValues("write", statusSuccess).Inc()

	return sf, true, nil
}

// readCached parses an existing cache entry. On parse failure the
// per-module subtree is removed so the next attempt refetches.
func (c *SymbolCache) readCached(path string, mod ModuleRef) (*breakpad.SymbolFile, bool) {
	f, err := os.Open(path)
	if err != nil {
		c.metrics.cacheOperations.WithLabelValues("read", cacheMiss).Inc()
		return nil, false
	}
	defer f.Close()

	sf, err := breakpad.Parse(f)
	if err != nil {
		level.Warn(c.logger).Log("msg", "corrupt cached symbol file, refetching",
			"path", path, "err", err)
		c.metrics.cacheOperations.WithLabelValues("read", cacheCorrupt).Inc()
		if err := os.RemoveAll(filepath.Join(c.root, mod.PDBBaseName, mod.DebugID)); err != nil {
			level.Warn(c.logger).Log("msg", "failed to remove corrupt cache entry", "path", path, "err", err)
		}
		return nil, false
	}

	c.metrics.cacheOperations.WithLabelValues("read", statusSuccess).Inc()
	c.metrics.skippedSymbolLines.Add(float64(sf.SkippedLines))
	return sf, true
}

// writeAtomic stages the content under the cache's tmp subtree and renames
// it into place once fully written.
func (c *SymbolCache) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(c.root, stagingDir), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, stagingDir), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	err = os.Rename(tmp.Name(), path)
	return err
}
