package symbolizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/symbolicate/pkg/breakpad"
)

// blockingFetcher serves one canned response but holds every fetch until
// released, so tests can pile up concurrent callers.
type blockingFetcher struct {
	data    []byte
	err     error
	release chan struct{}
	calls   atomic.Int64
}

func (f *blockingFetcher) FetchSymbols(ctx context.Context, mod ModuleRef) ([]byte, error) {
	f.calls.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newTestResolver(t *testing.T, fetcher SymbolFetcher) *Resolver {
	t.Helper()
	m := newMetrics(nil)
	cache := NewSymbolCache(log.NewNopLogger(), t.TempDir(), fetcher, m)
	return NewResolver(log.NewNopLogger(), cache, m, false)
}

// N concurrent requests for the same module trigger exactly one fetch, and
// every caller sees the same result.
func TestResolverDeduplicatesConcurrentFetches(t *testing.T) {
	fetcher := &blockingFetcher{data: []byte(testSymbols), release: make(chan struct{})}
	resolver := newTestResolver(t, fetcher)
	mod := testModuleRef(t)

	const callers = 16
	var wg sync.WaitGroup
	sfs := make([]*breakpad.SymbolFile, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sfs[i], errs[i] = resolver.Resolve(context.Background(), mod)
		}()
	}

	// Give every caller time to reach the resolver before releasing the
	// single underlying fetch.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	require.Equal(t, int64(1), fetcher.calls.Load(), "exactly one underlying fetch")
	for i := range sfs {
		require.NoError(t, errs[i], "caller %d", i)
		require.NotNil(t, sfs[i], "caller %d", i)
		require.Same(t, sfs[0], sfs[i], "all callers share one parsed symbol file")
	}
}

// A fatal transport error reaches every caller awaiting the module.
func TestResolverPropagatesFatalErrorToAllAwaiters(t *testing.T) {
	fetcher := &blockingFetcher{
		err:     httpStatusError{statusCode: 500, url: "http://example/x"},
		release: make(chan struct{}),
	}
	resolver := newTestResolver(t, fetcher)
	mod := testModuleRef(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = resolver.Resolve(context.Background(), mod)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	require.Equal(t, int64(1), fetcher.calls.Load())
	for i, err := range errs {
		require.Error(t, err, "caller %d", i)
	}
}

func TestResolverCachesNotFound(t *testing.T) {
	fetcher := &fakeFetcher{err: symbolsNotFoundError{name: "app.pdb", debugID: "B105"}}
	resolver := newTestResolver(t, fetcher)
	mod := testModuleRef(t)

	sf, err := resolver.Resolve(context.Background(), mod)
	require.NoError(t, err)
	require.Nil(t, sf)

	sf, err = resolver.Resolve(context.Background(), mod)
	require.NoError(t, err)
	require.Nil(t, sf)
	require.Equal(t, int64(1), fetcher.calls.Load())
}

func TestResolverDistinctModulesFetchSeparately(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(testSymbols)}
	resolver := newTestResolver(t, fetcher)

	modA, err := NewModuleRef("app.pdb", "AAAA")
	require.NoError(t, err)
	modB, err := NewModuleRef("app.pdb", "BBBB")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), modA)
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), modB)
	require.NoError(t, err)
	require.Equal(t, int64(2), fetcher.calls.Load())
}

func TestResolverAwaiterHonorsContext(t *testing.T) {
	fetcher := &blockingFetcher{data: []byte(testSymbols), release: make(chan struct{})}
	resolver := newTestResolver(t, fetcher)
	mod := testModuleRef(t)

	started := make(chan struct{})
	go func() {
		close(started)
		resolver.Resolve(context.Background(), mod)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resolver.Resolve(ctx, mod)
	require.ErrorIs(t, err, context.Canceled)

	close(fetcher.release)
}
