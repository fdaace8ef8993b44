package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	version int64
	data    []byte
}

// MemoryStore implements Store in process memory. Values are stored as JSON
// so readers never share mutable state with writers.
type MemoryStore struct {
	mutex sync.RWMutex
	data  map[string]memoryItem
	locks map[string]time.Time
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]memoryItem),
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string, dest interface{}) (int64, error) {
	m.mutex.RLock()
	item, ok := m.data[key]
	m.mutex.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return 0, err
	}
	return item.version, nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, key string, expected int64, value interface{}) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", key, err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	cur := m.data[key].version
	if cur != expected {
		return 0, ErrVersionConflict
	}
	m.data[key] = memoryItem{version: cur + 1, data: data}
	return cur + 1, nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryStore) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	if exp, ok := m.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Unlock(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Dump returns the raw JSON of every key under prefix.
func (m *MemoryStore) Dump(prefix string) map[string]string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = string(v.data)
		}
	}
	return out
}
