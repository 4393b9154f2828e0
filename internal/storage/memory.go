package storage

import "sort"

// MemoryStore is an in-memory Storage used by unit and scenario tests. It
// has no durability at all; PutSync behaves identically to Put since there
// is nothing to fsync.
type MemoryStore struct {
	data map[string]map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(namespace, key string) ([]byte, error) {
	ns, ok := m.data[namespace]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := ns[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Put(namespace, key string, value []byte) error {
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = stored
	return nil
}

func (m *MemoryStore) PutSync(namespace, key string, value []byte) error {
	return m.Put(namespace, key, value)
}

func (m *MemoryStore) Iterate(namespace string, fn func(key string, value []byte) bool) error {
	ns, ok := m.data[namespace]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k, ns[k]) {
			break
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
