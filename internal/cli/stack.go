package cli

import (
	"context"
	"fmt"
	"log"

	"coinpulse/internal/config"
	"coinpulse/internal/market/fallback"
	"coinpulse/internal/market/fetcher"
	"coinpulse/internal/market/ratelimit"
	"coinpulse/internal/market/store"
	"coinpulse/internal/obs"
)

// stack is the fetch pipeline shared by every command.
type stack struct {
	store   store.Store
	limiter *ratelimit.Limiter
	fetcher *fetcher.Fetcher
	metrics *obs.Metrics
}

func buildStack(ctx context.Context, conf *config.FinalConfig, metrics *obs.Metrics) (*stack, func(), error) {
	st, cleanup, err := store.Setup(ctx, conf.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("init cache: %w", err)
	}

	limiter := ratelimit.New(conf.Upstream.MinInterval, ratelimit.WithWaitObserver(metrics.ObserveLimiterWait))

	f := fetcher.New(st, limiter,
		fetcher.WithUpstream(fetcher.CoinGecko, conf.Upstream.BaseURL),
		fetcher.WithUpstream(fetcher.FearGreed, conf.Upstream.FearGreedURL),
		fetcher.WithFallback(fallback.New()),
		fetcher.WithTimeout(conf.Upstream.Timeout),
		fetcher.WithTTL(conf.Cache.TTL),
		fetcher.WithUserAgent(conf.Upstream.UserAgent),
		fetcher.WithObserver(metrics),
	)

	log.Printf("[coinpulse][stack] cache=%s ttl=%s min_interval=%s upstream=%s",
		driverName(conf.Cache.Driver), conf.Cache.TTL, conf.Upstream.MinInterval, conf.Upstream.BaseURL)

	return &stack{store: st, limiter: limiter, fetcher: f, metrics: metrics}, cleanup, nil
}

func driverName(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}
