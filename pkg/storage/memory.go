package storage

import (
	"context"
	"sync"
)

// MemoryStore implements Backend with in-memory maps.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu         sync.RWMutex
	properties map[string]map[string]string
	snapshots  map[string][]byte
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		properties: make(map[string]map[string]string),
		snapshots:  make(map[string][]byte),
	}
}

// Property returns the value stored under key in namespace
func (m *MemoryStore) Property(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.properties[namespace][key]
	return value, ok, nil
}

// SetProperty stores a value under key in namespace
func (m *MemoryStore) SetProperty(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	props, ok := m.properties[namespace]
	if !ok {
		props = make(map[string]string)
		m.properties[namespace] = props
	}
	props[key] = value
	return nil
}

// DeleteProperty removes a property
func (m *MemoryStore) DeleteProperty(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.properties[namespace], key)
	return nil
}

// Properties returns a copy of every property in namespace
func (m *MemoryStore) Properties(_ context.Context, namespace string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.properties[namespace]))
	for key, value := range m.properties[namespace] {
		result[key] = value
	}
	return result, nil
}

// SaveSnapshot stores a copy of the snapshot to prevent external modification
func (m *MemoryStore) SaveSnapshot(_ context.Context, room string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.snapshots[room] = stored
	return nil
}

// LoadSnapshot returns a copy of the snapshot for room
func (m *MemoryStore) LoadSnapshot(_ context.Context, room string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[room]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// DeleteSnapshot removes the snapshot for room
func (m *MemoryStore) DeleteSnapshot(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, room)
	return nil
}

// ListSnapshots returns the rooms that have a snapshot
func (m *MemoryStore) ListSnapshots(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.snapshots))
	for room := range m.snapshots {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// HealthCheck always succeeds for the in-memory store
func (m *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error {
	return nil
}
