package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Info
	heartbeats map[string]Heartbeat
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Info),
		heartbeats: make(map[string]Heartbeat),
	}
}

func (m *MemoryStore) entry(key string) *Info {
	info, ok := m.sessions[key]
	if !ok {
		info = &Info{Key: key}
		m.sessions[key] = info
	}
	info.UpdatedAt = time.Now()
	return info
}

func (m *MemoryStore) GetActivation(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.sessions[key]; ok {
		return info.Activation, nil
	}
	return "", nil
}

func (m *MemoryStore) SetActivation(ctx context.Context, key, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(key).Activation = mode
	return nil
}

func (m *MemoryStore) GetLastRoute(ctx context.Context, key string) (*Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.sessions[key]; ok && info.LastRoute != nil {
		r := *info.LastRoute
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetLastRoute(ctx context.Context, key string, route Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(key).LastRoute = &route
	return nil
}

func (m *MemoryStore) Touch(ctx context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.entry(key)
	if at.After(info.LastMessageAt) {
		info.LastMessageAt = at
	}
	return nil
}

func (m *MemoryStore) RecordHeartbeat(ctx context.Context, hb Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[hb.Surface] = hb
	return nil
}

func (m *MemoryStore) LastHeartbeat(ctx context.Context, surface string) (*Heartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hb, ok := m.heartbeats[surface]; ok {
		return &hb, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, info := range m.sessions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, info := range m.sessions {
		if info.UpdatedAt.Before(before) {
			delete(m.sessions, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
