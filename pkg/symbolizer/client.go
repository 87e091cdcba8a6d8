package symbolizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/backoff"
	"golang.org/x/sync/singleflight"
)

// SymbolFetcher retrieves one module's raw symbol file from remote storage.
// It returns a symbolsNotFoundError when no source has the module; any other
// error is a transport failure the caller must treat as fatal.
type SymbolFetcher interface {
	FetchSymbols(ctx context.Context, mod ModuleRef) ([]byte, error)
}

// ServerClientConfig holds configuration for the symbol-server client.
type ServerClientConfig struct {
	// ServerURLs is the prioritized list of symbol-server base URLs.
	ServerURLs []string

	// HTTPClient is the HTTP client to use for requests.
	// If nil, a default client will be created.
	HTTPClient *http.Client

	// BackoffConfig configures the retry backoff behavior for transient
	// server failures. Misses (404) are never retried.
	BackoffConfig backoff.Config

	// UserAgent is the User-Agent header to use for requests.
	UserAgent string
}

// ServerClient fetches Breakpad symbol files over HTTP, walking the
// configured servers strictly in priority order.
type ServerClient struct {
	cfg     ServerClientConfig
	metrics *metrics
	logger  log.Logger

	// Used to deduplicate concurrent requests for the same module
	group singleflight.Group
}

var defaultBackoffConfig = backoff.Config{
	MinBackoff: 1 * time.Second,
	MaxBackoff: 10 * time.Second,
	MaxRetries: 3,
}

// NewServerClient creates a client with default transport settings.
func NewServerClient(logger log.Logger, serverURLs []string, metrics *metrics) (*ServerClient, error) {
	return NewServerClientWithConfig(logger, ServerClientConfig{
		ServerURLs:    serverURLs,
		BackoffConfig: defaultBackoffConfig,
	}, metrics)
}

// NewServerClientWithConfig creates a client with the specified configuration.
func NewServerClientWithConfig(logger log.Logger, cfg ServerClientConfig, metrics *metrics) (*ServerClient, error) {
	if len(cfg.ServerURLs) == 0 {
		return nil, errors.New("at least one symbol server URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}

		httpClient = &http.Client{
			Transport: transport,
			Timeout:   120 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		}
	}

	cfg.HTTPClient = httpClient
	return &ServerClient{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// FetchSymbols retrieves the symbol file for one module, trying each
// configured server in order. A 404 moves on to the next server; any other
// failure aborts the fetch. Concurrent calls for the same module are
// collapsed into one request.
func (c *ServerClient) FetchSymbols(ctx context.Context, mod ModuleRef) ([]byte, error) {
	start := time.Now()
	status := statusSuccess
	defer func() {
		c.metrics.fetchRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	v, err, _ := c.group.Do(mod.key(), func() (interface{}, error) {
		return c.fetchFromServers(ctx, mod)
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = statusErrorCanceled
		case isSymbolsNotFoundError(err):
			status = statusErrorNotFound
		default:
			if statusCode, ok := isHTTPStatusError(err); ok {
				status = categorizeHTTPStatusCode(statusCode)
			} else {
				status = statusErrorOther
			}
		}
		return nil, err
	}

	data := v.([]byte)
	c.metrics.symbolFileSize.Observe(float64(len(data)))
	return data, nil
}

func (c *ServerClient) fetchFromServers(ctx context.Context, mod ModuleRef) ([]byte, error) {
	for _, base := range c.cfg.ServerURLs {
		data, err := c.fetchWithRetries(ctx, symbolURL(base, mod))
		if err == nil {
			return data, nil
		}
		if statusCode, ok := isHTTPStatusError(err); ok && statusCode == http.StatusNotFound {
			continue
		}
		return nil, err
	}
	return nil, symbolsNotFoundError{name: mod.PDBBaseName, debugID: mod.DebugID}
}

// fetchWithRetries attempts one server with exponential backoff on
// transient failures. A 404 is returned immediately so the caller can fall
// through to the next server.
func (c *ServerClient) fetchWithRetries(ctx context.Context, url string) ([]byte, error) {
	backOff := backoff.New(ctx, c.cfg.BackoffConfig)

	var lastErr error
	for backOff.Ongoing() {
		data, err := c.doRequest(ctx, url)
		if err == nil {
			return data, nil
		}

		if statusCode, ok := isHTTPStatusError(err); ok && statusCode == http.StatusNotFound {
			return nil, err
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		backOff.Wait()
	}

	if lastErr == nil {
		lastErr = backOff.Err()
	}
	return nil, fmt.Errorf("fetch symbols after %d attempts: %w", backOff.NumRetries()+1, lastErr)
}

// doRequest performs one HTTP GET and returns the decoded response body.
func (c *ServerClient) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError{statusCode: resp.StatusCode, url: url}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return decodePayload(data)
}

// symbolURL builds <base>/<escape(pdb)>/<debugID>/<escape(symFileName)>.
func symbolURL(base string, mod ModuleRef) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(base, "/"),
		url.PathEscape(mod.PDBBaseName),
		mod.DebugID,
		url.PathEscape(mod.SymbolFileName))
}

func categorizeHTTPStatusCode(statusCode int) string {
	switch {
	case statusCode == http.StatusNotFound:
		return statusErrorNotFound
	case statusCode >= 400 && statusCode < 500:
		return statusErrorClientError
	case statusCode >= 500:
		return statusErrorServerError
	default:
		return statusErrorHTTPOther
	}
}

// isRetryableError determines if an error should trigger a retry attempt.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if statusCode, ok := isHTTPStatusError(err); ok {
		if statusCode == http.StatusTooManyRequests {
			return true
		}
		if statusCode >= 400 && statusCode < 500 {
			return false
		}
		return statusCode >= 500
	}

	if os.IsTimeout(err) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Temporary()
	}

	return false
}
