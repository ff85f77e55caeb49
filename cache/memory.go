package cache

import (
	"container/list"
	"sync"
)

const (
	// DefaultMaxEntries is the default entry limit of a Memory cache.
	DefaultMaxEntries = 64

	// DefaultMaxBytes is the default byte limit of a Memory cache.
	DefaultMaxBytes int64 = 64 << 20
)

// Memory is an in-memory LRU Cache bounded by entry count and bytes.
//
// When either bound is exceeded the least recently used entries are evicted
// until both hold. An entry larger than the byte bound is never stored.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	size       int64
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64
}

// Interface compliance.
var _ Cache = (*Memory)(nil)

// memoryEntry is a single cached URL.
type memoryEntry struct {
	url   string
	entry Entry
	size  int64
}

// Stats reports cache usage.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithMaxEntries sets the maximum number of entries. Values <= 0 remove the limit.
func WithMaxEntries(n int) Option {
	return func(m *Memory) {
		m.maxEntries = n
	}
}

// WithMaxBytes sets the maximum total entry size. Values <= 0 remove the limit.
func WithMaxBytes(n int64) Option {
	return func(m *Memory) {
		m.maxBytes = n
	}
}

// NewMemory creates an empty Memory cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Cache. A hit promotes the entry to most recently used.
func (m *Memory) Get(url string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[url]
	if !ok {
		m.misses++
		return Entry{}, false
	}
	m.hits++
	m.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).entry, true //nolint:errcheck // type is guaranteed by Put
}

// Put implements Cache.
func (m *Memory) Put(url string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[url]; ok {
		m.removeLocked(elem)
	}
	m.insertLocked(url, e)
}

// Add implements Cache.
func (m *Memory) Add(url string, e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[url]; ok {
		return false
	}
	return m.insertLocked(url, e)
}

// insertLocked stores e at the front unless it exceeds the byte bound.
// Caller must hold m.mu and have removed any entry for url.
func (m *Memory) insertLocked(url string, e Entry) bool {
	size := e.Size()
	if m.maxBytes > 0 && size > m.maxBytes {
		return false
	}

	elem := m.order.PushFront(&memoryEntry{url: url, entry: e, size: size})
	m.entries[url] = elem
	m.size += size
	m.evictLocked()
	return true
}

// Delete implements Cache.
func (m *Memory) Delete(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[url]; ok {
		m.removeLocked(elem)
	}
}

// Purge implements Cache.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.entries)
	m.order.Init()
	m.size = 0
}

// Len implements Cache.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// SizeBytes returns the current total entry size.
func (m *Memory) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Prune evicts least recently used entries until the cache holds at most
// targetBytes. Returns the number of bytes freed.
func (m *Memory) Prune(targetBytes int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.size
	for m.size > max(targetBytes, 0) {
		if !m.evictOldestLocked() {
			break
		}
	}
	return before - m.size
}

// Stats returns a snapshot of cache usage.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:   m.order.Len(),
		Bytes:     m.size,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}

// evictLocked evicts until both bounds hold. Caller must hold m.mu.
func (m *Memory) evictLocked() {
	for (m.maxEntries > 0 && m.order.Len() > m.maxEntries) || (m.maxBytes > 0 && m.size > m.maxBytes) {
		if !m.evictOldestLocked() {
			return
		}
	}
}

// evictOldestLocked evicts the least recently used entry. Caller must hold m.mu.
func (m *Memory) evictOldestLocked() bool {
	oldest := m.order.Back()
	if oldest == nil {
		return false
	}
	m.removeLocked(oldest)
	m.evictions++
	return true
}

// removeLocked removes an element from both the list and map.
// Caller must hold m.mu.
func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry) //nolint:errcheck // type is guaranteed by Put
	m.order.Remove(elem)
	delete(m.entries, entry.url)
	m.size -= entry.size
}
