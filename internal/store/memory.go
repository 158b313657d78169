package store

import (
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-riskmap/internal/backend"
)

type key struct {
	session  string
	category backend.Category
}

// Memory is the default in-process FeatureStore.
type Memory struct {
	mu   sync.RWMutex
	data map[key][]*geojson.Feature
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[key][]*geojson.Feature)}
}

func (m *Memory) Add(session string, cat backend.Category, features []*geojson.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{session, cat}
	m.data[k] = append(m.data[k], features...)
	return nil
}

func (m *Memory) Features(session string, cat backend.Category) ([]*geojson.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.data[key{session, cat}]
	out := make([]*geojson.Feature, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) Len(session string, cat backend.Category) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[key{session, cat}])
}

func (m *Memory) Clear(session string, cat backend.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key{session, cat})
	return nil
}

func (m *Memory) ClearSession(session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if k.session == session {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *Memory) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}

func (m *Memory) Close() error { return nil }
