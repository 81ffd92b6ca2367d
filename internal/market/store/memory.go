package store

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process Store. With maxEntries == 0 it grows without bound,
// which is fine for the handful of distinct keys a dashboard asks for; a
// positive bound turns on LRU eviction.
type Memory struct {
	mu    sync.Mutex
	now   Clock
	max   int
	items map[string]*list.Element
	// front is the most recently used entry
	order *list.List
}

type MemoryOption func(*Memory)

func WithClock(c Clock) MemoryOption {
	return func(m *Memory) { m.now = c }
}

func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) { m.max = n }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:   time.Now,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	m.order.MoveToFront(el)
	return cloneEntry(el.Value.(Entry)), true, nil
}

func (m *Memory) Put(_ context.Context, key string, payload json.RawMessage) error {
	e := Entry{Key: key, Payload: append(json.RawMessage(nil), payload...), FetchedAt: m.now()}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		el.Value = e
		m.order.MoveToFront(el)
		return nil
	}
	m.items[key] = m.order.PushFront(e)

	if m.max > 0 {
		for m.order.Len() > m.max {
			tail := m.order.Back()
			m.order.Remove(tail)
			delete(m.items, tail.Value.(Entry).Key)
		}
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Clear() {
	m.mu.Lock()
	clear(m.items)
	m.order.Init()
	m.mu.Unlock()
}

// callers must not be able to mutate the stored payload
func cloneEntry(e Entry) Entry {
	e.Payload = append(json.RawMessage(nil), e.Payload...)
	return e
}
