package kv

import (
	"fmt"
	"sync"

	"github.com/starford/markpad/internal/apperr"
)

// Memory is a Store held in process memory. With a quota set, writes that
// would push the total size of keys and values past it are rejected.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	size  int
	quota int // bytes; 0 means unlimited
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithQuota limits the store to n bytes of keys plus values.
func WithQuota(n int) MemoryOption {
	return func(m *Memory) {
		m.quota = n
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{data: make(map[string]string)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.size + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		next -= len(key) + len(old)
	}
	if m.quota > 0 && next > m.quota {
		return fmt.Errorf("kv: set %s: %w", key, apperr.ErrQuotaExceeded)
	}
	m.data[key] = value
	m.size = next
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

// Clear drops every key, the way a browser discards session storage when
// its tab goes away.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
	m.size = 0
}

// Size returns the bytes currently counted against the quota.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
