// Package model holds the upstream payload shapes the gateway understands.
// Field names follow the CoinGecko v3 and alternative.me JSON.
package model

// Coin is one row of /coins/markets.
type Coin struct {
	ID                       string     `json:"id"`
	Symbol                   string     `json:"symbol"`
	Name                     string     `json:"name"`
	Image                    string     `json:"image,omitempty"`
	CurrentPrice             float64    `json:"current_price"`
	MarketCap                float64    `json:"market_cap"`
	MarketCapRank            int        `json:"market_cap_rank"`
	TotalVolume              float64    `json:"total_volume"`
	High24h                  float64    `json:"high_24h,omitempty"`
	Low24h                   float64    `json:"low_24h,omitempty"`
	PriceChangePercentage24h float64    `json:"price_change_percentage_24h"`
	Sparkline                *Sparkline `json:"sparkline_in_7d,omitempty"`
}

type Sparkline struct {
	Price []float64 `json:"price"`
}

// GlobalStats is the /global envelope.
type GlobalStats struct {
	Data GlobalData `json:"data"`
}

type GlobalData struct {
	ActiveCryptocurrencies          int                `json:"active_cryptocurrencies"`
	Markets                         int                `json:"markets,omitempty"`
	TotalMarketCap                  map[string]float64 `json:"total_market_cap"`
	TotalVolume                     map[string]float64 `json:"total_volume"`
	MarketCapPercentage             map[string]float64 `json:"market_cap_percentage"`
	MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
}

// Trending is the /search/trending envelope.
type Trending struct {
	Coins []TrendingCoin `json:"coins"`
}

type TrendingCoin struct {
	Item TrendingItem `json:"item"`
}

type TrendingItem struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank int    `json:"market_cap_rank,omitempty"`
	Thumb         string `json:"thumb,omitempty"`
	Small         string `json:"small,omitempty"`
	Score         int    `json:"score,omitempty"`
}

// FearGreedResponse is what alternative.me returns for /fng/.
type FearGreedResponse struct {
	Name string             `json:"name,omitempty"`
	Data []FearGreedReading `json:"data"`
}

// FearGreedReading carries its numbers as strings, as the upstream does.
type FearGreedReading struct {
	Value               string `json:"value"`
	ValueClassification string `json:"value_classification"`
	Timestamp           string `json:"timestamp"`
	TimeUntilUpdate     string `json:"time_until_update,omitempty"`
}

// CoinDetail is the subset of /coins/{id} the dashboard reads.
type CoinDetail struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	MarketCapRank int         `json:"market_cap_rank"`
	MarketData    *MarketData `json:"market_data,omitempty"`
}

type MarketData struct {
	CurrentPrice             map[string]float64 `json:"current_price"`
	MarketCap                map[string]float64 `json:"market_cap"`
	TotalVolume              map[string]float64 `json:"total_volume"`
	PriceChangePercentage24h float64            `json:"price_change_percentage_24h"`
	Sparkline7d              *Sparkline         `json:"sparkline_7d,omitempty"`
}

// MarketChart is /coins/{id}/market_chart; points are [unix millis, value].
type MarketChart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// Price returns the current price in currency, zero when absent.
func (d CoinDetail) Price(currency string) float64 {
	if d.MarketData == nil {
		return 0
	}
	return d.MarketData.CurrentPrice[currency]
}
