// Package resource binds upstream endpoints to refreshing, typed state.
//
// A Resource is what the presentation layer reads: the last decoded payload,
// whether it is still loading, the last error and where the data came from.
// It refreshes on a fixed cadence, on demand and on focus/reconnect
// triggers, and collapses identical fetches so many readers cost one
// upstream call.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"coinpulse/internal/config"
	"coinpulse/internal/market/fetcher"
	"coinpulse/internal/market/store"
)

type Trigger string

const (
	TriggerMount     Trigger = "mount"
	TriggerFocus     Trigger = "focus"
	TriggerReconnect Trigger = "reconnect"
	TriggerInterval  Trigger = "interval"
	TriggerManual    Trigger = "manual"
)

// ParseTrigger accepts the triggers a client may send.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case TriggerMount, TriggerFocus, TriggerReconnect:
		return Trigger(s), nil
	default:
		return "", fmt.Errorf("unknown trigger %q", s)
	}
}

// Source is satisfied by *fetcher.Fetcher.
type Source interface {
	FetchFrom(ctx context.Context, upstream, endpoint string, params url.Values) fetcher.Outcome
}

type Request struct {
	Upstream string
	Endpoint string
	Params   url.Values
}

type State[T any] struct {
	Data      *T
	IsLoading bool
	IsError   bool
	Err       error
	Source    fetcher.Source
	UpdatedAt time.Time
}

// Snapshot is State without the type parameter, for transports.
type Snapshot struct {
	Name      string         `json:"name"`
	Data      any            `json:"data"`
	IsLoading bool           `json:"is_loading"`
	IsError   bool           `json:"is_error"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Source    fetcher.Source `json:"source"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// Stale reports whether the data shown is not live upstream data.
func (s Snapshot) Stale() bool {
	return s.Source == fetcher.SourceStale || s.Source == fetcher.SourceFallback
}

// Handle is the untyped view the hub and the HTTP layer work with.
type Handle interface {
	Name() string
	Snapshot() Snapshot
	Refresh(ctx context.Context) Snapshot
	Revalidate(ctx context.Context, t Trigger) (Snapshot, bool)
	Run(ctx context.Context) error
}

type Decoder[T any] func(raw json.RawMessage) (T, error)

// JSON decodes the payload straight into T.
func JSON[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

type Resource[T any] struct {
	name   string
	req    Request
	key    string
	decode Decoder[T]
	policy config.Policy
	src    Source
	now    func() time.Time

	sf singleflight.Group

	mu        sync.RWMutex
	data      *T
	err       error
	source    fetcher.Source
	updatedAt time.Time
	lastStart time.Time
}

func New[T any](name string, src Source, req Request, policy config.Policy, decode Decoder[T], now func() time.Time) *Resource[T] {
	if decode == nil {
		decode = JSON[T]
	}
	if now == nil {
		now = time.Now
	}
	return &Resource[T]{
		name:   name,
		req:    req,
		key:    req.Upstream + ":" + store.Key(req.Endpoint, req.Params),
		decode: decode,
		policy: policy,
		src:    src,
		now:    now,
		source: fetcher.SourceNone,
	}
}

func (r *Resource[T]) Name() string { return r.name }

func (r *Resource[T]) Policy() config.Policy { return r.policy }

func (r *Resource[T]) State() State[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State[T]{
		Data:      r.data,
		IsLoading: r.data == nil && r.err == nil,
		IsError:   r.err != nil,
		Err:       r.err,
		Source:    r.source,
		UpdatedAt: r.updatedAt,
	}
}

func (r *Resource[T]) Snapshot() Snapshot {
	st := r.State()
	snap := Snapshot{
		Name:      r.name,
		IsLoading: st.IsLoading,
		IsError:   st.IsError,
		Source:    st.Source,
	}
	if st.Data != nil {
		snap.Data = *st.Data
	}
	if st.Err != nil {
		snap.Error = st.Err.Error()
		if kind, ok := fetcher.KindOf(st.Err); ok {
			snap.ErrorKind = string(kind)
		}
	}
	if !st.UpdatedAt.IsZero() {
		at := st.UpdatedAt
		snap.UpdatedAt = &at
	}
	return snap
}

// Load fetches now, ignoring the dedup window, and returns the new state.
func (r *Resource[T]) Load(ctx context.Context) State[T] {
	r.fetch(ctx)
	return r.State()
}

// Refresh is the manual out-of-band re-fetch.
func (r *Resource[T]) Refresh(ctx context.Context) Snapshot {
	r.fetch(ctx)
	return r.Snapshot()
}

// Revalidate fetches for a client trigger unless the policy disables that
// trigger or a fetch started within the dedup window. The bool reports
// whether a fetch happened.
func (r *Resource[T]) Revalidate(ctx context.Context, t Trigger) (Snapshot, bool) {
	switch t {
	case TriggerFocus:
		if !r.policy.RevalidateOnFocus {
			return r.Snapshot(), false
		}
	case TriggerReconnect:
		if !r.policy.RevalidateOnReconnect {
			return r.Snapshot(), false
		}
	}
	if r.deduped() {
		return r.Snapshot(), false
	}
	r.fetch(ctx)
	return r.Snapshot(), true
}

// Run loads on mount and then on every refresh tick until ctx is done.
func (r *Resource[T]) Run(ctx context.Context) error {
	r.Revalidate(ctx, TriggerMount)

	interval := r.policy.RefreshInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.fetch(ctx)
		}
	}
}

func (r *Resource[T]) deduped() bool {
	if r.policy.DedupWindow <= 0 {
		return false
	}
	r.mu.RLock()
	last := r.lastStart
	r.mu.RUnlock()
	return !last.IsZero() && r.now().Sub(last) < r.policy.DedupWindow
}

// fetch shares one upstream call among concurrent callers. The shared call
// is detached from any single caller: a caller that goes away stops waiting
// but the result still lands in the state.
func (r *Resource[T]) fetch(ctx context.Context) {
	ch := r.sf.DoChan(r.key, func() (any, error) {
		r.mu.Lock()
		r.lastStart = r.now()
		r.mu.Unlock()

		o := r.src.FetchFrom(context.WithoutCancel(ctx), r.req.Upstream, r.req.Endpoint, r.req.Params)
		r.apply(o)
		return nil, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (r *Resource[T]) apply(o fetcher.Outcome) {
	if !o.HasData() {
		r.mu.Lock()
		r.err = o.Cause()
		if r.err == nil {
			r.err = &fetcher.FetchError{Kind: fetcher.KindMalformed, Endpoint: r.req.Endpoint, Err: fmt.Errorf("empty payload")}
		}
		r.mu.Unlock()
		log.Printf("[coinpulse][resource] %s failed: %v", r.name, r.err)
		return
	}

	v, err := r.decode(o.Payload)
	if err != nil {
		ferr := &fetcher.FetchError{Kind: fetcher.KindMalformed, Endpoint: r.req.Endpoint, Err: err}
		r.mu.Lock()
		r.err = ferr
		r.mu.Unlock()
		log.Printf("[coinpulse][resource] %s decode: %v", r.name, ferr)
		return
	}

	updated := o.FetchedAt
	if updated.IsZero() {
		updated = r.now()
	}

	r.mu.Lock()
	r.data = &v
	r.err = nil
	r.source = o.Source
	r.updatedAt = updated
	r.mu.Unlock()
}
