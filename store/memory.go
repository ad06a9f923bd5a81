package store

import (
	"context"
	"sync"

	"tax-rpc/taxengine"
)

// Memory is a map-backed repository for tests and development servers.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]taxengine.Profile
	rates    map[string]taxengine.IvaRate
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]taxengine.Profile),
		rates:    make(map[string]taxengine.IvaRate),
	}
}

func (m *Memory) GetProfile(ctx context.Context, clientID string) (*taxengine.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[clientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetIvaRate(ctx context.Context, jurisdiction string) (*taxengine.IvaRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rates[jurisdiction]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) PutProfile(ctx context.Context, p *taxengine.Profile) error {
	m.mu.Lock()
	m.profiles[p.ClientID] = *p
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutIvaRate(ctx context.Context, r *taxengine.IvaRate) error {
	m.mu.Lock()
	m.rates[r.Jurisdiction] = *r
	m.mu.Unlock()
	return nil
}
