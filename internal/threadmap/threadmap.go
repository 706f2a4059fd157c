// Package threadmap provides the thread-keyed container shared by the
// conversation, execution-state and checkpoint stores. Entries are kept in
// access order so that an optional Policy can expire idle threads and cap the
// number of live threads (least recently used first).
package threadmap

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Policy bounds the container. The zero value is unbounded.
type Policy struct {
	// TTL expires threads not accessed for longer than this duration.
	TTL time.Duration `yaml:"ttl"`
	// MaxThreads evicts the least recently used thread beyond this count.
	MaxThreads int `yaml:"max_threads"`
}

// Unbounded reports whether the policy never evicts.
func (p Policy) Unbounded() bool { return p.TTL <= 0 && p.MaxThreads <= 0 }

type entry[V any] struct {
	value   V
	touched time.Time
}

// Map is a concurrency safe map from thread id to V.
type Map[V any] struct {
	mu      sync.Mutex
	policy  Policy
	entries *orderedmap.OrderedMap[string, *entry[V]]
	now     func() time.Time
	onEvict func(threadID string)
}

// Option configures a Map.
type Option[V any] func(m *Map[V])

// WithClock overrides the time source (tests).
func WithClock[V any](now func() time.Time) Option[V] {
	return func(m *Map[V]) { m.now = now }
}

// WithEvictHook registers a callback invoked (under lock) for every evicted thread.
func WithEvictHook[V any](fn func(threadID string)) Option[V] {
	return func(m *Map[V]) { m.onEvict = fn }
}

// New creates a Map governed by policy.
func New[V any](policy Policy, opts ...Option[V]) *Map[V] {
	m := &Map[V]{
		policy:  policy,
		entries: orderedmap.New[string, *entry[V]](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value stored for threadID and marks it as recently used.
func (m *Map[V]) Get(threadID string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()
	e, ok := m.entries.Get(threadID)
	if !ok {
		var zero V
		return zero, false
	}
	m.touch(threadID, e)
	return e.value, true
}

// Set stores v for threadID.
func (m *Map[V]) Set(threadID string, v V) {
	m.Update(threadID, func(V, bool) V { return v })
}

// Update atomically replaces the value for threadID with fn(current, exists)
// and returns the stored result.
func (m *Map[V]) Update(threadID string, fn func(current V, exists bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()

	var current V
	e, ok := m.entries.Get(threadID)
	if ok {
		current = e.value
	}
	next := fn(current, ok)
	if ok {
		e.value = next
		m.touch(threadID, e)
	} else {
		m.entries.Set(threadID, &entry[V]{value: next, touched: m.now()})
	}
	m.enforceCap()
	return next
}

// Delete removes threadID.
func (m *Map[V]) Delete(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Delete(threadID)
}

// Len returns the number of live threads.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()
	return m.entries.Len()
}

// Keys returns live thread ids from least to most recently used.
func (m *Map[V]) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()
	keys := make([]string, 0, m.entries.Len())
	for p := m.entries.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

func (m *Map[V]) touch(threadID string, e *entry[V]) {
	e.touched = m.now()
	_ = m.entries.MoveToBack(threadID)
}

// expire drops idle threads. Entries are ordered by access time so the scan
// stops at the first fresh entry.
func (m *Map[V]) expire() {
	if m.policy.TTL <= 0 {
		return
	}
	cutoff := m.now().Add(-m.policy.TTL)
	for p := m.entries.Oldest(); p != nil; {
		if !p.Value.touched.Before(cutoff) {
			return
		}
		next := p.Next()
		m.evict(p.Key)
		p = next
	}
}

func (m *Map[V]) enforceCap() {
	if m.policy.MaxThreads <= 0 {
		return
	}
	for m.entries.Len() > m.policy.MaxThreads {
		m.evict(m.entries.Oldest().Key)
	}
}

func (m *Map[V]) evict(threadID string) {
	m.entries.Delete(threadID)
	if m.onEvict != nil {
		m.onEvict(threadID)
	}
}
