package store

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"testing"
	"time"

	"coinpulse/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestIsFresh(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{FetchedAt: base}

	assert.True(t, IsFresh(e, base, DefaultTTL))
	assert.True(t, IsFresh(e, base.Add(59*time.Second), DefaultTTL))
	assert.False(t, IsFresh(e, base.Add(60*time.Second), DefaultTTL), "exactly ttl old is stale")
	assert.False(t, IsFresh(e, base.Add(70*time.Second), DefaultTTL))
}

func TestKey_NormalizesParams(t *testing.T) {
	a := Key("/coins/markets", url.Values{"vs_currency": {"usd"}, "per_page": {"5"}})
	b := Key("/coins/markets?per_page=5", url.Values{"vs_currency": {"usd"}})
	c := Key("/coins/markets?vs_currency=usd&per_page=5", nil)

	assert.Equal(t, "/coins/markets?per_page=5&vs_currency=usd", a)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, "/global", Key("/global", nil))
}

func TestMemory_PutOverwritesAndStamps(t *testing.T) {
	clk := newFakeClock()
	m := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "k", json.RawMessage(`{"v":1}`)))
	clk.Advance(5 * time.Second)
	require.NoError(t, m.Put(ctx, "k", json.RawMessage(`{"v":2}`)))

	e, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(e.Payload))
	assert.Equal(t, clk.Now(), e.FetchedAt)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_StaleEntriesAreKept(t *testing.T) {
	clk := newFakeClock()
	m := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", json.RawMessage(`[]`)))
	clk.Advance(24 * time.Hour)

	e, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, IsFresh(e, clk.Now(), DefaultTTL))
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", json.RawMessage(`"abc"`)))

	e, _, _ := m.Get(ctx, "k")
	e.Payload[1] = 'z'

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, `"abc"`, string(again.Payload))
}

func TestMemory_UnboundedByDefault(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		key := Key("/coins/markets", url.Values{"page": {strconv.Itoa(i)}})
		require.NoError(t, m.Put(ctx, key, json.RawMessage(`1`)))
	}
	assert.Equal(t, 500, m.Len())
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(WithMaxEntries(2))
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "a", json.RawMessage(`1`)))
	require.NoError(t, m.Put(ctx, "b", json.RawMessage(`2`)))
	// touch a so b becomes least recently used
	_, ok, _ := m.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, m.Put(ctx, "c", json.RawMessage(`3`)))

	assert.Equal(t, 2, m.Len())
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a", json.RawMessage(`1`)))
	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestSetup_Drivers(t *testing.T) {
	s, cleanup, err := Setup(context.Background(), configFor("memory", 3))
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &Memory{}, s)

	_, _, err = Setup(context.Background(), configFor("memcached", 0))
	assert.Error(t, err)
}

func TestSetup_CleanupIsNeverNil(t *testing.T) {
	_, cleanup, err := Setup(context.Background(), configFor("memcached", 0))
	require.Error(t, err)
	require.NotNil(t, cleanup)
	assert.NotPanics(t, cleanup)

	// nothing listens on port 1, the ping fails fast
	unreachable := configFor("redis", 0)
	unreachable.Addr = "127.0.0.1:1"
	_, cleanup, err = Setup(context.Background(), unreachable)
	require.Error(t, err)
	require.NotNil(t, cleanup)
	assert.NotPanics(t, cleanup)
}

func configFor(driver string, maxEntries int) config.CacheSettings {
	return config.CacheSettings{Driver: driver, MaxEntries: maxEntries, TTL: DefaultTTL}
}
