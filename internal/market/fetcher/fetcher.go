// Package fetcher is the single entry point for upstream market data.
//
// A Fetch serves a fresh cache entry without touching the network, otherwise
// waits for a rate-limiter slot and makes one GET. When that fails it prefers
// a stale cache entry, then a canned fallback payload, and only then reports
// a classified failure.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"coinpulse/internal/market/fallback"
	"coinpulse/internal/market/store"
)

const (
	DefaultTimeout = 15 * time.Second
	// upstream payloads above this are treated as malformed
	maxBodyBytes = 16 << 20
)

// Gate is the rate limiter every outbound call passes through.
type Gate interface {
	AwaitSlot(ctx context.Context) error
}

// FallbackProvider returns canned payloads per endpoint category.
type FallbackProvider interface {
	For(category fallback.Category) (json.RawMessage, bool)
}

// Observer receives fetch telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveOutcome(upstream string, category fallback.Category, o Outcome)
	ObserveUpstream(upstream string, status int, errKind ErrorKind, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string, fallback.Category, Outcome) {}
func (nopObserver) ObserveUpstream(string, int, ErrorKind, time.Duration) {}

type Fetcher struct {
	store     store.Store
	gate      Gate
	fallback  FallbackProvider
	client    *http.Client
	upstreams map[string]Upstream
	timeout   time.Duration
	ttl       time.Duration
	userAgent string
	now       func() time.Time
	observer  Observer
}

type Option func(*Fetcher)

func WithUpstream(name, baseURL string) Option {
	return func(f *Fetcher) { f.upstreams[name] = Upstream{Name: name, BaseURL: baseURL} }
}

func WithFallback(p FallbackProvider) Option {
	return func(f *Fetcher) { f.fallback = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.ttl = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithClock must share its time source with the store so freshness checks
// agree with the stamps the store writes.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		if o != nil {
			f.observer = o
		}
	}
}

func New(st store.Store, gate Gate, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:     st,
		gate:      gate,
		fallback:  fallback.New(),
		client:    &http.Client{},
		upstreams: make(map[string]Upstream),
		timeout:   DefaultTimeout,
		ttl:       store.DefaultTTL,
		now:       time.Now,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch queries the CoinGecko upstream.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, params url.Values) Outcome {
	return f.FetchFrom(ctx, CoinGecko, endpoint, params)
}

// FetchFrom queries the named upstream. Exactly one Outcome is produced.
func (f *Fetcher) FetchFrom(ctx context.Context, upstream, endpoint string, params url.Values) Outcome {
	category := fallback.CategoryOf(endpoint)
	o := f.fetch(ctx, upstream, endpoint, params, category)
	f.observer.ObserveOutcome(upstream, category, o)
	return o
}

func (f *Fetcher) fetch(ctx context.Context, upstream, endpoint string, params url.Values, category fallback.Category) Outcome {
	key := upstream + ":" + store.Key(endpoint, params)

	cached, hasCached := f.lookup(ctx, key)
	if hasCached && store.IsFresh(cached, f.now(), f.ttl) {
		return Outcome{Kind: Success, Payload: cached.Payload, Fresh: true, Source: SourceCache, FetchedAt: cached.FetchedAt}
	}

	payload, ferr := f.dispatch(ctx, upstream, endpoint, params)
	if ferr == nil {
		if err := f.store.Put(ctx, key, payload); err != nil {
			log.Printf("[coinpulse][fetch] cache put key=%s error: %v", key, err)
		}
		return Outcome{Kind: Success, Payload: payload, Fresh: true, Source: SourceLive, FetchedAt: f.now()}
	}

	log.Printf("[coinpulse][fetch] upstream=%s endpoint=%s failed: %v", upstream, endpoint, ferr)

	if hasCached {
		log.Printf("[coinpulse][fetch] serving stale entry key=%s age=%s", key, f.now().Sub(cached.FetchedAt).Round(time.Second))
		return Outcome{Kind: StaleCacheHit, Payload: cached.Payload, Source: SourceStale, FetchedAt: cached.FetchedAt, Err: ferr}
	}

	if fb, ok := f.fallback.For(category); ok {
		log.Printf("[coinpulse][fetch] serving fallback category=%s kind=%s", category, ferr.Kind)
		return Outcome{Kind: FallbackServed, Payload: fb, Source: SourceFallback, Err: ferr}
	}

	return Outcome{Kind: Failure, Source: SourceNone, Err: ferr}
}

// lookup degrades store errors to a miss; a broken cache must not fail a fetch.
func (f *Fetcher) lookup(ctx context.Context, key string) (store.Entry, bool) {
	e, ok, err := f.store.Get(ctx, key)
	if err != nil {
		log.Printf("[coinpulse][fetch] cache get key=%s error: %v", key, err)
		return store.Entry{}, false
	}
	return e, ok
}

// dispatch makes the single upstream attempt of a Fetch.
func (f *Fetcher) dispatch(ctx context.Context, upstream, endpoint string, params url.Values) (json.RawMessage, *FetchError) {
	up, ok := f.upstreams[upstream]
	if !ok {
		return nil, &FetchError{Kind: KindUpstream, Endpoint: endpoint, Err: fmt.Errorf("unknown upstream %q", upstream)}
	}
	target, err := up.URL(endpoint, params)
	if err != nil {
		return nil, &FetchError{Kind: KindUpstream, Endpoint: endpoint, Err: err}
	}

	if err := f.gate.AwaitSlot(ctx); err != nil {
		return nil, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("await slot: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	body, status, ferr := f.do(req, endpoint)
	var kind ErrorKind
	if ferr != nil {
		kind = ferr.Kind
	}
	elapsed := time.Since(start)
	f.observer.ObserveUpstream(upstream, status, kind, elapsed)
	log.Printf("[coinpulse][call] upstream=%s url=%s status=%d in=%s", upstream, target, status, elapsed)

	return body, ferr
}

func (f *Fetcher) do(req *http.Request, endpoint string) (json.RawMessage, int, *FetchError) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &FetchError{Kind: KindNetwork, Status: resp.StatusCode, Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	if kind, failed := classifyStatus(resp.StatusCode); failed {
		return nil, resp.StatusCode, &FetchError{Kind: kind, Status: resp.StatusCode, Endpoint: endpoint}
	}
	if !json.Valid(data) {
		return nil, resp.StatusCode, &FetchError{Kind: KindMalformed, Status: resp.StatusCode, Endpoint: endpoint, Err: fmt.Errorf("body is not json")}
	}

	return data, resp.StatusCode, nil
}
