package loadbalance

import (
	"sync/atomic"

	"tax-rpc/registry"
)

// RoundRobinBalancer distributes requests evenly across all instances in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // Incremented on each Pick()
}

// Pick selects the next instance in round-robin order.
func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance, _ string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := b.counter.Add(1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
