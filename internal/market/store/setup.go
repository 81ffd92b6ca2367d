package store

import (
	"context"
	"fmt"
	"log"

	"coinpulse/internal/config"
	"coinpulse/pkg/cache"
)

// Setup builds the Store selected by cache.driver. The returned cleanup is
// never nil.
func Setup(ctx context.Context, cfg config.CacheSettings) (Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		log.Printf("[coinpulse][cache] driver=memory max_entries=%d ttl=%s", cfg.MaxEntries, cfg.TTL)
		return NewMemory(WithMaxEntries(cfg.MaxEntries)), func() {}, nil
	case "redis":
		r, err := cache.Init(ctx, cache.Config{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			Prefix:    cfg.Prefix,
			Retention: cfg.Retention,
		})
		if err != nil {
			return nil, func() {}, fmt.Errorf("init redis cache: %w", err)
		}
		log.Printf("[coinpulse][cache] driver=redis addr=%s db=%d ttl=%s", cfg.Addr, cfg.DB, cfg.TTL)
		return NewRedis(cache.New(r), nil), func() { _ = r.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
