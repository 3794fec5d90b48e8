// Package fetcher downloads article documents over HTTP with per-host rate
// limiting and transient-error retries.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/rulesmith/internal/resilience"
)

// maxDocumentSize caps a fetched document at 4 MiB. News pages past that are
// almost certainly not article HTML.
const maxDocumentSize = 4 << 20

// Fetcher retrieves the raw document for a source. The orchestrator only ever
// sees this interface.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, rawURL string) (string, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerHost throttles requests per host. Default: 2/s.
	RatePerHost float64
}

// HTTP implements Fetcher over net/http. One rate limiter per host, created
// on first use.
type HTTP struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// backoffInitial overrides the retry schedule in tests.
	backoffInitial time.Duration
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts Options) *HTTP {
	if opts.UserAgent == "" {
		opts.UserAgent = "rulesmith/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 2
	}
	return &HTTP{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch downloads the document at rawURL, retrying transient failures with
// the standard backoff schedule.
func (f *HTTP) Fetch(ctx context.Context, sourceID, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", eris.Errorf("fetcher: invalid url for %s: %q", sourceID, rawURL)
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return "", eris.Wrapf(err, "fetcher: rate limit wait for %s", u.Host)
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.MaxRetries
	cfg.OnRetry = resilience.RetryLogger("fetcher", sourceID)
	if f.backoffInitial > 0 {
		cfg.InitialBackoff = f.backoffInitial
	}

	body, err := resilience.Do(ctx, cfg, func(ctx context.Context) (string, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: fetch %s", sourceID)
	}

	zap.L().Debug("document fetched",
		zap.String("source", sourceID),
		zap.String("host", u.Host),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

func (f *HTTP) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", resilience.Transient(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.Transient(err, resp.StatusCode)
		}
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", resilience.Transient(eris.Wrap(err, "read body"), 0)
	}
	return string(body), nil
}

func (f *HTTP) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.opts.RatePerHost), 1)
		f.limiters[host] = l
	}
	return l
}
