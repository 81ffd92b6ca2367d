package fetcher

import (
	"encoding/json"
	"time"
)

type Kind string

const (
	Success        Kind = "success"
	StaleCacheHit  Kind = "stale_cache_hit"
	FallbackServed Kind = "fallback_served"
	Failure        Kind = "failure"
)

// Source tells consumers where a payload came from, so synthetic data is
// never mistaken for live data.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceStale    Source = "stale"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Outcome is the result of exactly one Fetch call.
//
// Err is set for every non-success outcome: for StaleCacheHit and
// FallbackServed it is the upstream failure that was absorbed.
type Outcome struct {
	Kind      Kind
	Payload   json.RawMessage
	Fresh     bool
	Source    Source
	FetchedAt time.Time
	Err       *FetchError
}

// HasData reports whether the outcome carries a payload.
func (o Outcome) HasData() bool {
	return o.Kind != Failure && len(o.Payload) > 0
}

// Degraded is true for stale and synthetic payloads.
func (o Outcome) Degraded() bool {
	return o.Kind == StaleCacheHit || o.Kind == FallbackServed
}

// Cause returns Err as an error interface, nil when there is none.
func (o Outcome) Cause() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}
