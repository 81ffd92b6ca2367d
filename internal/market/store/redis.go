package store

import (
	"context"
	"encoding/json"
	"time"

	"coinpulse/pkg/cache"
)

// Redis keeps entries in redis so several gateway replicas share one view
// of the upstream and its rate budget is spent once per key.
type Redis struct {
	c   *cache.Cache
	now Clock
}

func NewRedis(c *cache.Cache, now Clock) *Redis {
	if now == nil {
		now = time.Now
	}
	return &Redis{c: c, now: now}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	var e Entry
	ok, err := r.c.GetJSON(ctx, r.c.Key(key), &e)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, payload json.RawMessage) error {
	return r.c.SetJSON(ctx, r.c.Key(key), Entry{Key: key, Payload: payload, FetchedAt: r.now()})
}
