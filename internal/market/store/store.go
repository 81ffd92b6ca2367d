// Package store keeps the last good upstream payload per request key.
//
// Entries are never expired by the store itself: freshness is a read-time
// decision (IsFresh) so that a stale entry can still be served when the
// upstream fails.
package store

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is the freshness window of an entry.
const DefaultTTL = 60 * time.Second

type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store is implemented by the memory and redis drivers.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put always overwrites and stamps FetchedAt with the store clock.
	Put(ctx context.Context, key string, payload json.RawMessage) error
}

// Clock is injected so tests can move time.
type Clock func() time.Time

// IsFresh reports whether the entry is younger than ttl at now.
func IsFresh(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// Normalize splits endpoint into path and query, merging params and sorting
// the values of every parameter so equivalent requests share one key.
func Normalize(endpoint string, params url.Values) (string, url.Values) {
	path, rawQuery, _ := strings.Cut(endpoint, "?")
	merged := url.Values{}
	if rawQuery != "" {
		if q, err := url.ParseQuery(rawQuery); err == nil {
			for k, vs := range q {
				merged[k] = append(merged[k], vs...)
			}
		}
	}
	for k, vs := range params {
		merged[k] = append(merged[k], vs...)
	}
	for k := range merged {
		sort.Strings(merged[k])
	}
	return path, merged
}

// Key derives the cache key from endpoint and params.
func Key(endpoint string, params url.Values) string {
	path, q := Normalize(endpoint, params)
	if len(q) == 0 {
		return path
	}
	// Encode sorts by parameter name
	return path + "?" + q.Encode()
}
