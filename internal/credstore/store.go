package credstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("credential not found")

// Store is a key/value credential store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Keys returns every stored key, least recently written first.
	Keys(ctx context.Context) ([]string, error)
}

// LoginKey returns the key under which an instance's login is remembered.
func LoginKey(instance string) string {
	return instance + "/login"
}

// LoginInstance returns the instance a LoginKey was built from.
func LoginInstance(key string) (string, bool) {
	return strings.CutSuffix(key, "/login")
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	seq    int64
}

type memoryEntry struct {
	value []byte
	seq   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]memoryEntry)}
}

// Get returns a copy of the value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Put stores a copy of value under key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.values[key] = memoryEntry{value: append([]byte(nil), value...), seq: m.seq}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns every stored key in write order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Compare(m.values[a].seq, m.values[b].seq)
	})
	return keys, nil
}
