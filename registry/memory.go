package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process registry. Servers and clients that share one
// Memory find each other without any external service.
type Memory struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance // service → addr → instance
	watchers map[string][]chan []ServiceInstance
}

func NewMemory() *Memory {
	return &Memory{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// Register ignores ttl: entries live until Deregister.
func (m *Memory) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services[serviceName] == nil {
		m.services[serviceName] = make(map[string]ServiceInstance)
	}
	m.services[serviceName][instance.Addr] = instance
	m.notifyLocked(serviceName)
	return nil
}

func (m *Memory) Deregister(ctx context.Context, serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services[serviceName], addr)
	m.notifyLocked(serviceName)
	return nil
}

func (m *Memory) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instances := m.listLocked(serviceName)
	if len(instances) == 0 {
		return nil, errors.Wrap(ErrNoInstances, serviceName)
	}
	return instances, nil
}

func (m *Memory) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	m.mu.Lock()
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		ws := m.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				m.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (m *Memory) listLocked(serviceName string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(m.services[serviceName]))
	for _, inst := range m.services[serviceName] {
		instances = append(instances, inst)
	}
	return instances
}

// notifyLocked delivers the latest list to every watcher. A watcher that has
// not consumed the previous list gets it replaced.
func (m *Memory) notifyLocked(serviceName string) {
	instances := m.listLocked(serviceName)
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
