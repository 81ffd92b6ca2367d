package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Version   string    `yaml:"version" env-default:"v1"`
	Gateway   Gateway   `yaml:"gateway"`
	Cache     Cache     `yaml:"cache"`
	Upstream  Upstream  `yaml:"upstream"`
	Resources Resources `yaml:"resources"`
}

type Gateway struct {
	Address            string `yaml:"address"              env:"GATEWAY_ADDR"              env-default:":8080"`
	ReadTimeoutSec     int    `yaml:"read_timeout_sec"     env:"GATEWAY_READ_TIMEOUT"      env-default:"15"`
	WriteTimeoutSec    int    `yaml:"write_timeout_sec"    env:"GATEWAY_WRITE_TIMEOUT"     env-default:"15"`
	IdleTimeoutSec     int    `yaml:"idle_timeout_sec"     env:"GATEWAY_IDLE_TIMEOUT"      env-default:"60"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" env:"GATEWAY_SHUTDOWN_TIMEOUT"  env-default:"15"`
}

type Cache struct {
	Driver     string `yaml:"driver"      env:"CACHE_DRIVER"      env-default:"memory"`
	Host       string `yaml:"host"        env:"CACHE_HOST"        env-default:"localhost"`
	Port       int    `yaml:"port"        env:"CACHE_PORT"        env-default:"6379"`
	Db         int    `yaml:"db"          env:"CACHE_DB"          env-default:"0"`
	Pass       string `yaml:"password"    env:"CACHE_PASSWORD"    env-default:""`
	Prefix     string `yaml:"prefix"      env:"CACHE_PREFIX"      env-default:"coinpulse"`
	TTL        string `yaml:"ttl"         env:"CACHE_TTL"         env-default:"60s"`
	MaxEntries int    `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"0"`
	Retention  string `yaml:"retention"   env:"CACHE_RETENTION"   env-default:""`
}

// Upstream describes the market-data API. BaseURL is the one knob meant to be
// flipped per deployment.
type Upstream struct {
	BaseURL      string `yaml:"base_url"       env:"COINPULSE_API_URL"      env-default:"https://api.coingecko.com/api/v3"`
	FearGreedURL string `yaml:"fear_greed_url" env:"COINPULSE_FNG_URL"      env-default:"https://api.alternative.me"`
	Timeout      string `yaml:"timeout"        env:"COINPULSE_API_TIMEOUT"  env-default:"15s"`
	MinInterval  string `yaml:"min_interval"   env:"COINPULSE_MIN_INTERVAL" env-default:"1200ms"`
	UserAgent    string `yaml:"user_agent"     env:"COINPULSE_USER_AGENT"   env-default:"coinpulse/1.0"`
}

type Resources struct {
	DedupWindow string   `yaml:"dedup_window" env:"COINPULSE_DEDUP_WINDOW" env-default:"30s"`
	Markets     Resource `yaml:"markets"`
	Global      Resource `yaml:"global"`
	Trending    Resource `yaml:"trending"`
	FearGreed   Resource `yaml:"fear_greed"`
	CoinDetails Resource `yaml:"coin_details"`
	CoinHistory Resource `yaml:"coin_history"`
	MaxOnDemand int      `yaml:"max_on_demand" env:"COINPULSE_MAX_ON_DEMAND" env-default:"256"`
}

// Resource is a per-accessor override; empty fields keep the built-in cadence.
type Resource struct {
	Refresh     string `yaml:"refresh,omitempty"`
	OnFocus     *bool  `yaml:"revalidate_on_focus,omitempty"`
	OnReconnect *bool  `yaml:"revalidate_on_reconnect,omitempty"`
	Dedup       string `yaml:"dedup_window,omitempty"`
}

// Policy is a resolved Resource.
type Policy struct {
	RefreshInterval       time.Duration `yaml:"refresh_interval"`
	RevalidateOnFocus     bool          `yaml:"revalidate_on_focus"`
	RevalidateOnReconnect bool          `yaml:"revalidate_on_reconnect"`
	DedupWindow           time.Duration `yaml:"dedup_window"`
}

type CacheSettings struct {
	Driver     string        `yaml:"driver"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"-" json:"-"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Retention  time.Duration `yaml:"retention"`
}

type UpstreamSettings struct {
	BaseURL      string        `yaml:"base_url"`
	FearGreedURL string        `yaml:"fear_greed_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MinInterval  time.Duration `yaml:"min_interval"`
	UserAgent    string        `yaml:"user_agent"`
}

type Policies struct {
	Markets         Policy `yaml:"markets"`
	Global          Policy `yaml:"global"`
	Trending        Policy `yaml:"trending"`
	FearGreed       Policy `yaml:"fear_greed"`
	CoinDetails     Policy `yaml:"coin_details"`
	CoinHistory     Policy `yaml:"coin_history"`
	CoinHistoryLong Policy `yaml:"coin_history_long"`
	// MaxOnDemand caps the client-keyed resources (coin pages, other
	// currencies) kept in memory.
	MaxOnDemand int `yaml:"max_on_demand"`
}

type FinalConfig struct {
	Gateway   Gateway          `yaml:"gateway"`
	Cache     CacheSettings    `yaml:"cache"`
	Upstream  UpstreamSettings `yaml:"upstream"`
	Resources Policies         `yaml:"resources"`
}

// DefaultDedupWindow suppresses trigger revalidation after a recent fetch.
const DefaultDedupWindow = 30 * time.Second

const DefaultMaxOnDemand = 256

// Built-in cadences of the dashboard accessors.
var (
	DefaultMarkets     = Policy{RefreshInterval: 10 * time.Second, RevalidateOnFocus: true, RevalidateOnReconnect: true}
	DefaultGlobal      = Policy{RefreshInterval: 10 * time.Second, RevalidateOnFocus: true, RevalidateOnReconnect: true}
	DefaultTrending    = Policy{RefreshInterval: 5 * time.Minute, RevalidateOnFocus: true, RevalidateOnReconnect: true}
	DefaultFearGreed   = Policy{RefreshInterval: time.Hour, RevalidateOnFocus: false, RevalidateOnReconnect: true}
	DefaultCoinDetails = Policy{RefreshInterval: 2 * time.Minute, RevalidateOnFocus: true, RevalidateOnReconnect: true}
	// history for days <= 1 refreshes every 5 minutes, longer windows every 10
	DefaultCoinHistory     = Policy{RefreshInterval: 5 * time.Minute, RevalidateOnFocus: false, RevalidateOnReconnect: true}
	DefaultCoinHistoryLong = Policy{RefreshInterval: 10 * time.Minute, RevalidateOnFocus: false, RevalidateOnReconnect: true}
)

// DefaultPolicies is the resolved policy set of an empty config.
func DefaultPolicies() Policies {
	p := Policies{
		Markets:         DefaultMarkets,
		Global:          DefaultGlobal,
		Trending:        DefaultTrending,
		FearGreed:       DefaultFearGreed,
		CoinDetails:     DefaultCoinDetails,
		CoinHistory:     DefaultCoinHistory,
		CoinHistoryLong: DefaultCoinHistoryLong,
		MaxOnDemand:     DefaultMaxOnDemand,
	}
	for _, pol := range []*Policy{&p.Markets, &p.Global, &p.Trending, &p.FearGreed, &p.CoinDetails, &p.CoinHistory, &p.CoinHistoryLong} {
		pol.DedupWindow = DefaultDedupWindow
	}
	return p
}

func Load(pathOrContent string) (*Config, error) {
	var cfg Config

	if pathOrContent == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	// an existing file wins
	if fi, err := os.Stat(pathOrContent); err == nil && !fi.IsDir() {
		if err := cleanenv.ReadConfig(pathOrContent, &cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", pathOrContent, err)
		}
		return &cfg, nil
	}

	// inline YAML is recognised by a newline or one of the top-level keys
	maybeContent := pathOrContent
	if strings.Contains(maybeContent, "\n") || strings.Contains(maybeContent, "upstream:") || strings.Contains(maybeContent, "cache:") {
		if err := yaml.Unmarshal([]byte(maybeContent), &cfg); err != nil {
			return nil, fmt.Errorf("parse config content: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	// a missing config.yaml is fine, the defaults and env describe a full setup
	abs := pathOrContent
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(".", abs)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadConfig(abs, &cfg); err != nil {
		return nil, fmt.Errorf("read config %q: %w", pathOrContent, err)
	}
	return &cfg, nil
}

func Build(configPath string) (*FinalConfig, error) {
	raw, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	return raw.Resolve()
}

// Resolve parses durations and fills per-resource policies.
func (c *Config) Resolve() (*FinalConfig, error) {
	ttl, err := ParseDuration(c.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("cache.ttl: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache.ttl must be positive, got %q", c.Cache.TTL)
	}
	retention, err := ParseDuration(c.Cache.Retention)
	if err != nil {
		return nil, fmt.Errorf("cache.retention: %w", err)
	}
	if c.Cache.MaxEntries < 0 {
		return nil, fmt.Errorf("cache.max_entries must not be negative")
	}

	timeout, err := ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return nil, fmt.Errorf("upstream.timeout: %w", err)
	}
	interval, err := ParseDuration(c.Upstream.MinInterval)
	if err != nil {
		return nil, fmt.Errorf("upstream.min_interval: %w", err)
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return nil, fmt.Errorf("upstream.base_url is empty")
	}

	dedup, err := ParseDuration(c.Resources.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("resources.dedup_window: %w", err)
	}

	out := &FinalConfig{
		Gateway: c.Gateway,
		Cache: CacheSettings{
			Driver:     strings.ToLower(strings.TrimSpace(c.Cache.Driver)),
			Addr:       fmt.Sprintf("%s:%d", c.Cache.Host, c.Cache.Port),
			Password:   c.Cache.Pass,
			DB:         c.Cache.Db,
			Prefix:     c.Cache.Prefix,
			TTL:        ttl,
			MaxEntries: c.Cache.MaxEntries,
			Retention:  retention,
		},
		Upstream: UpstreamSettings{
			BaseURL:      strings.TrimRight(strings.TrimSpace(c.Upstream.BaseURL), "/"),
			FearGreedURL: strings.TrimRight(strings.TrimSpace(c.Upstream.FearGreedURL), "/"),
			Timeout:      timeout,
			MinInterval:  interval,
			UserAgent:    c.Upstream.UserAgent,
		},
	}

	r := c.Resources
	resolved := []struct {
		name string
		dst  *Policy
		def  Policy
		src  Resource
	}{
		{"markets", &out.Resources.Markets, DefaultMarkets, r.Markets},
		{"global", &out.Resources.Global, DefaultGlobal, r.Global},
		{"trending", &out.Resources.Trending, DefaultTrending, r.Trending},
		{"fear_greed", &out.Resources.FearGreed, DefaultFearGreed, r.FearGreed},
		{"coin_details", &out.Resources.CoinDetails, DefaultCoinDetails, r.CoinDetails},
		{"coin_history", &out.Resources.CoinHistory, DefaultCoinHistory, r.CoinHistory},
		{"coin_history", &out.Resources.CoinHistoryLong, DefaultCoinHistoryLong, Resource{OnFocus: r.CoinHistory.OnFocus, OnReconnect: r.CoinHistory.OnReconnect, Dedup: r.CoinHistory.Dedup}},
	}
	for _, p := range resolved {
		def := p.def
		def.DedupWindow = dedup
		pol, err := p.src.apply(def)
		if err != nil {
			return nil, fmt.Errorf("resources.%s: %w", p.name, err)
		}
		*p.dst = pol
	}

	if r.MaxOnDemand < 0 {
		return nil, fmt.Errorf("resources.max_on_demand must not be negative")
	}
	out.Resources.MaxOnDemand = r.MaxOnDemand
	if out.Resources.MaxOnDemand == 0 {
		out.Resources.MaxOnDemand = DefaultMaxOnDemand
	}

	return out, nil
}

func (r Resource) apply(def Policy) (Policy, error) {
	out := def
	if r.Refresh != "" {
		d, err := ParseDuration(r.Refresh)
		if err != nil {
			return Policy{}, fmt.Errorf("refresh: %w", err)
		}
		if d <= 0 {
			return Policy{}, fmt.Errorf("refresh must be positive, got %q", r.Refresh)
		}
		out.RefreshInterval = d
	}
	if r.Dedup != "" {
		d, err := ParseDuration(r.Dedup)
		if err != nil {
			return Policy{}, fmt.Errorf("dedup_window: %w", err)
		}
		out.DedupWindow = d
	}
	if r.OnFocus != nil {
		out.RevalidateOnFocus = *r.OnFocus
	}
	if r.OnReconnect != nil {
		out.RevalidateOnReconnect = *r.OnReconnect
	}
	return out, nil
}

// ParseDuration accepts Go durations ("1200ms") or bare seconds ("60").
// An empty value is zero.
func ParseDuration(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", val)
}

// Pretty returns the YAML form of FinalConfig for logging.
func (fc *FinalConfig) Pretty() (string, error) {
	b, err := yaml.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(b), nil
}
