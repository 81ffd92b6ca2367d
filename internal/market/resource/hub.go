package resource

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"coinpulse/internal/config"
	"coinpulse/internal/market/fetcher"
	"coinpulse/internal/market/model"
)

// Names of the core dashboard resources.
const (
	NameMarkets   = "markets"
	NameGlobal    = "global"
	NameTrending  = "trending"
	NameFearGreed = "fear_greed"
)

const (
	DefaultVsCurrency = "usd"
	DefaultPerPage    = 250
)

// Hub owns one Resource per distinct request so every consumer of the same
// data shares its state and its upstream calls.
//
// The four core resources refresh on their own cadence while Run is active.
// Client-keyed resources (other currencies, coin pages) have no loop: reads
// revalidate them, gated by the dedup window, and the least recently read
// ones are dropped once the on-demand cap is reached.
type Hub struct {
	src      Source
	policies config.Policies
	now      func() time.Time

	Markets   *Resource[[]model.Coin]
	Global    *Resource[model.GlobalStats]
	Trending  *Resource[model.Trending]
	FearGreed *Resource[model.FearGreedReading]

	mu          sync.Mutex
	core        map[string]Handle
	onDemand    map[string]*list.Element
	lru         *list.List
	maxOnDemand int
	running     bool
}

func NewHub(src Source, policies config.Policies, now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	maxOnDemand := policies.MaxOnDemand
	if maxOnDemand <= 0 {
		maxOnDemand = config.DefaultMaxOnDemand
	}
	h := &Hub{
		src:         src,
		policies:    policies,
		now:         now,
		core:        make(map[string]Handle),
		onDemand:    make(map[string]*list.Element),
		lru:         list.New(),
		maxOnDemand: maxOnDemand,
	}

	h.Markets = registerCore(h, newMarkets(h, DefaultVsCurrency, DefaultPerPage))
	h.Global = registerCore(h, New[model.GlobalStats](NameGlobal, src,
		Request{Upstream: fetcher.CoinGecko, Endpoint: "/global"}, policies.Global, nil, now))
	h.Trending = registerCore(h, New[model.Trending](NameTrending, src,
		Request{Upstream: fetcher.CoinGecko, Endpoint: "/search/trending"}, policies.Trending, nil, now))
	h.FearGreed = registerCore(h, New[model.FearGreedReading](NameFearGreed, src,
		Request{Upstream: fetcher.FearGreed, Endpoint: "/fng/", Params: url.Values{"limit": {"1"}}}, policies.FearGreed, decodeFearGreed, now))

	return h
}

// MarketsFor returns the markets list for a currency and page size. The
// default pair is the core Markets resource.
func (h *Hub) MarketsFor(vsCurrency string, perPage int) *Resource[[]model.Coin] {
	if vsCurrency == "" {
		vsCurrency = DefaultVsCurrency
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if vsCurrency == DefaultVsCurrency && perPage == DefaultPerPage && h.Markets != nil {
		return h.Markets
	}
	return registerOnDemand(h, newMarkets(h, vsCurrency, perPage))
}

func newMarkets(h *Hub, vsCurrency string, perPage int) *Resource[[]model.Coin] {
	name := NameMarkets
	if vsCurrency != DefaultVsCurrency || perPage != DefaultPerPage {
		name = fmt.Sprintf("%s:%s:%d", NameMarkets, vsCurrency, perPage)
	}
	return New[[]model.Coin](name, h.src, Request{
		Upstream: fetcher.CoinGecko,
		Endpoint: "/coins/markets",
		Params: url.Values{
			"vs_currency": {vsCurrency},
			"order":       {"market_cap_desc"},
			"per_page":    {strconv.Itoa(perPage)},
			"sparkline":   {"true"},
		},
	}, h.policies.Markets, nil, h.now)
}

// CoinDetails is the single-coin view.
func (h *Hub) CoinDetails(coinID string) *Resource[model.CoinDetail] {
	return registerOnDemand(h, New[model.CoinDetail]("coin:"+coinID, h.src, Request{
		Upstream: fetcher.CoinGecko,
		Endpoint: "/coins/" + url.PathEscape(coinID),
		Params: url.Values{
			"localization":   {"false"},
			"tickers":        {"false"},
			"market_data":    {"true"},
			"community_data": {"false"},
			"developer_data": {"false"},
			"sparkline":      {"true"},
		},
	}, h.policies.CoinDetails, nil, h.now))
}

// CoinHistory is the price chart of a coin over days; short windows refresh
// more often.
func (h *Hub) CoinHistory(coinID string, days int) *Resource[model.MarketChart] {
	if days <= 0 {
		days = 7
	}
	policy := h.policies.CoinHistoryLong
	if days <= 1 {
		policy = h.policies.CoinHistory
	}
	return registerOnDemand(h, New[model.MarketChart](fmt.Sprintf("history:%s:%d", coinID, days), h.src, Request{
		Upstream: fetcher.CoinGecko,
		Endpoint: "/coins/" + url.PathEscape(coinID) + "/market_chart",
		Params: url.Values{
			"vs_currency": {DefaultVsCurrency},
			"days":        {strconv.Itoa(days)},
		},
	}, policy, nil, h.now))
}

func registerCore[T any](h *Hub, r *Resource[T]) *Resource[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.core[r.Name()] = r
	return r
}

// registerOnDemand returns the resource already kept under r's name, or
// keeps r, and marks it most recently used. The oldest entries beyond the
// cap are dropped; holders of a dropped resource can still read it.
func registerOnDemand[T any](h *Hub, r *Resource[T]) *Resource[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.onDemand[r.Name()]; ok {
		if typed, ok := el.Value.(*Resource[T]); ok {
			h.lru.MoveToFront(el)
			return typed
		}
		h.lru.Remove(el)
	}
	h.onDemand[r.Name()] = h.lru.PushFront(Handle(r))

	for h.lru.Len() > h.maxOnDemand {
		oldest := h.lru.Back()
		h.lru.Remove(oldest)
		delete(h.onDemand, oldest.Value.(Handle).Name())
	}
	return r
}

// Lookup finds a registered resource by name.
func (h *Hub) Lookup(name string) (Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.core[name]; ok {
		return r, true
	}
	if el, ok := h.onDemand[name]; ok {
		h.lru.MoveToFront(el)
		return el.Value.(Handle), true
	}
	return nil, false
}

// Names lists registered resources, sorted.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.core)+len(h.onDemand))
	for n := range h.core {
		names = append(names, n)
	}
	for n := range h.onDemand {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OnDemandLen is the number of client-keyed resources currently kept.
func (h *Hub) OnDemandLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lru.Len()
}

func (h *Hub) coreHandles() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Handle, 0, len(h.core))
	for _, r := range h.core {
		out = append(out, r)
	}
	return out
}

// Run drives the core resource loops until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("hub already running")
	}
	h.running = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	handles := h.coreHandles()
	for _, r := range handles {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	log.Printf("[coinpulse][hub] running %d resources", len(handles))
	return g.Wait()
}

// Revalidate fans a client trigger out to the core resources and returns
// how many of them actually fetched.
func (h *Hub) Revalidate(ctx context.Context, t Trigger) int {
	var (
		mu      sync.Mutex
		fetched int
	)
	var g errgroup.Group
	for _, r := range h.coreHandles() {
		r := r
		g.Go(func() error {
			if _, ok := r.Revalidate(ctx, t); ok {
				mu.Lock()
				fetched++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return fetched
}

// alternative.me wraps the reading in a one-element list
func decodeFearGreed(raw json.RawMessage) (model.FearGreedReading, error) {
	var resp model.FearGreedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.FearGreedReading{}, err
	}
	if len(resp.Data) == 0 {
		return model.FearGreedReading{}, fmt.Errorf("fear and greed response has no readings")
	}
	return resp.Data[0], nil
}
