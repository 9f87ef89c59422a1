package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gridclimate/internal/resilience"
)

// AdaptiveLimiter paces requests to one host. It speeds up 20% after each
// success (to at most twice the initial rate) and halves after each 429 (to
// no less than a quarter of it).
type AdaptiveLimiter struct {
	limiter *rate.Limiter
	initial rate.Limit

	mu      sync.Mutex
	current rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at initial requests/second.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		initial: initial,
		current: initial,
	}
}

// Wait blocks until a request may be sent.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(min(a.Limit()*1.2, a.initial*2))
}

// OnRateLimit lowers the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	next := max(a.Limit()*0.5, a.initial/4)
	a.set(next)
	zap.L().Warn("fetcher: provider rate limited, slowing down", zap.Float64("new_rate", float64(next)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = r
	a.limiter.SetLimit(r)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig

	// Limiters maps host to limiter. Hosts without an entry share a
	// default pace of DefaultRate.
	Limiters map[string]*AdaptiveLimiter

	// Breakers, when set, fails fast against hosts that keep failing.
	Breakers *resilience.Breakers

	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// DefaultRate is the pace for hosts without a configured limiter.
const DefaultRate rate.Limit = 20

// HTTPFetcher implements Fetcher with per-host pacing, retry on transient
// failures and classification of provider responses.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gridclimate/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	limiters := make(map[string]*AdaptiveLimiter, len(opts.Limiters))
	for host, l := range opts.Limiters {
		limiters[host] = l
	}
	return &HTTPFetcher{client: client, opts: opts, limiters: limiters}
}

// LimiterFor returns the limiter pacing host, creating a default one on
// first use.
func (f *HTTPFetcher) LimiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = NewAdaptiveLimiter(DefaultRate, int(DefaultRate))
		f.limiters[host] = l
	}
	return l
}

// Download fetches rawURL, retrying transient failures and 429s with
// exponential backoff. Non-2xx responses that survive retry are returned as
// *FetchError.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	host := u.Host

	retry := f.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(host, "GET "+u.Path)
	}
	download := func(ctx context.Context) (io.ReadCloser, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
			return f.attempt(ctx, host, rawURL)
		})
	}

	var body io.ReadCloser
	if f.opts.Breakers != nil {
		body, err = resilience.Guard(ctx, f.opts.Breakers.Get(host), download)
	} else {
		body, err = download(ctx)
	}

	if ctx.Err() != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, eris.Wrap(ctx.Err(), "fetcher: download cancelled")
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &FetchError{Kind: KindTransient, Provider: host, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, host, rawURL string) (io.ReadCloser, error) {
	lim := f.LimiterFor(host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Kind: KindTransient, Provider: host, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		lim.OnSuccess()
		return resp.Body, nil
	}

	snippet := readSnippet(resp.Body)
	_ = resp.Body.Close()

	kind := classifyStatus(resp.StatusCode)
	if kind == KindRateLimited {
		lim.OnRateLimit()
	}
	return nil, &FetchError{
		Kind:       kind,
		Provider:   host,
		StatusCode: resp.StatusCode,
		Err:        eris.Errorf("unexpected status %d: %s", resp.StatusCode, snippet),
	}
}

// readSnippet returns the start of an error body for diagnostics.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
