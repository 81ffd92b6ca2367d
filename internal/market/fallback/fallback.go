// Package fallback serves canned payloads shaped like real upstream
// responses. It never touches the network.
package fallback

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"coinpulse/internal/market/model"
)

type Category string

const (
	CategoryMarkets   Category = "markets"
	CategoryGlobal    Category = "global"
	CategoryTrending  Category = "trending"
	CategoryFearGreed Category = "fear_greed"
	CategoryUnknown   Category = "unknown"
)

// SparklinePoints is one week of hourly prices.
const SparklinePoints = 168

// CategoryOf maps an upstream endpoint to its fallback category.
func CategoryOf(endpoint string) Category {
	path, _, _ := strings.Cut(endpoint, "?")
	switch {
	case strings.Contains(path, "/coins/markets"):
		return CategoryMarkets
	case strings.HasSuffix(path, "/global"):
		return CategoryGlobal
	case strings.Contains(path, "/search/trending"):
		return CategoryTrending
	case strings.Contains(path, "/fng"):
		return CategoryFearGreed
	default:
		return CategoryUnknown
	}
}

type Catalog struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

type Option func(*Catalog)

// WithSeed pins the sparkline jitter.
func WithSeed(seed int64) Option {
	return func(c *Catalog) { c.rng = rand.New(rand.NewSource(seed)) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func New(opts ...Option) *Catalog {
	c := &Catalog{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// For returns the canned payload of category, false when there is none and
// the caller has to surface the original failure.
func (c *Catalog) For(category Category) (json.RawMessage, bool) {
	var v any
	switch category {
	case CategoryMarkets:
		v = c.markets()
	case CategoryGlobal:
		v = global
	case CategoryTrending:
		v = trending
	case CategoryFearGreed:
		v = c.fearGreed()
	default:
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

type cannedCoin struct {
	coin model.Coin
	// sparkline points fall in price*[low, low+span)
	low, span float64
}

var cannedCoins = []cannedCoin{
	{model.Coin{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", Image: "https://coin-images.coingecko.com/coins/images/1/large/bitcoin.png",
		CurrentPrice: 107392, MarketCap: 2133891188092, MarketCapRank: 1, TotalVolume: 29922132518, PriceChangePercentage24h: -1.29}, 0.98, 0.04},
	{model.Coin{ID: "ethereum", Symbol: "eth", Name: "Ethereum", Image: "https://coin-images.coingecko.com/coins/images/279/large/ethereum.png",
		CurrentPrice: 2648.48, MarketCap: 319741855387, MarketCapRank: 2, TotalVolume: 19322480130, PriceChangePercentage24h: -0.52}, 0.98, 0.04},
	{model.Coin{ID: "tether", Symbol: "usdt", Name: "Tether USDt", Image: "https://coin-images.coingecko.com/coins/images/325/large/Tether.png",
		CurrentPrice: 1.0, MarketCap: 153000000000, MarketCapRank: 3, TotalVolume: 45000000000, PriceChangePercentage24h: 0.01}, 0.999, 0.002},
	{model.Coin{ID: "xrp", Symbol: "xrp", Name: "XRP", Image: "https://coin-images.coingecko.com/coins/images/44/large/xrp-symbol-white-128.png",
		CurrentPrice: 3.42, MarketCap: 132500000000, MarketCapRank: 4, TotalVolume: 8500000000, PriceChangePercentage24h: 2.15}, 0.95, 0.1},
	{model.Coin{ID: "binancecoin", Symbol: "bnb", Name: "BNB", Image: "https://coin-images.coingecko.com/coins/images/825/large/bnb-icon2_2x.png",
		CurrentPrice: 711.23, MarketCap: 100300000000, MarketCapRank: 5, TotalVolume: 2100000000, PriceChangePercentage24h: 1.34}, 0.96, 0.08},
}

func (c *Catalog) markets() []model.Coin {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Coin, 0, len(cannedCoins))
	for _, cc := range cannedCoins {
		coin := cc.coin
		prices := make([]float64, SparklinePoints)
		for i := range prices {
			prices[i] = coin.CurrentPrice * (cc.low + c.rng.Float64()*cc.span)
		}
		coin.Sparkline = &model.Sparkline{Price: prices}
		out = append(out, coin)
	}
	return out
}

func (c *Catalog) fearGreed() model.FearGreedResponse {
	return model.FearGreedResponse{
		Name: "Fear and Greed Index",
		Data: []model.FearGreedReading{{
			Value:               "50",
			ValueClassification: "Neutral",
			Timestamp:           strconv.FormatInt(c.now().Unix(), 10),
		}},
	}
}

var global = model.GlobalStats{Data: model.GlobalData{
	ActiveCryptocurrencies:          17225,
	TotalMarketCap:                  map[string]float64{"usd": 3514073984165},
	TotalVolume:                     map[string]float64{"usd": 107566863568},
	MarketCapPercentage:             map[string]float64{"btc": 60.68, "eth": 9.10},
	MarketCapChangePercentage24hUSD: -3.41,
}}

var trending = model.Trending{Coins: []model.TrendingCoin{
	{Item: model.TrendingItem{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", Small: "https://coin-images.coingecko.com/coins/images/1/small/bitcoin.png"}},
	{Item: model.TrendingItem{ID: "ethereum", Symbol: "eth", Name: "Ethereum", Small: "https://coin-images.coingecko.com/coins/images/279/small/ethereum.png"}},
}}
